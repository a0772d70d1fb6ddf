package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/chessarcade/leaderboard/internal/domain"
	"github.com/chessarcade/leaderboard/internal/ratelimit"
	"github.com/chessarcade/leaderboard/internal/registry"
	"github.com/chessarcade/leaderboard/internal/service"
	"github.com/chessarcade/leaderboard/internal/sqlite"
	"github.com/chessarcade/leaderboard/internal/validate"
	"github.com/chessarcade/leaderboard/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	router http.Handler
	store  *sqlite.Store
}

func newTestEnv(t *testing.T, read, write ratelimit.Policy) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "scores.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := registry.Default()
	guard := ratelimit.NewGuard(ratelimit.NewMemory(), read, write, logger)
	svc := service.NewLeaderboardService(store, validate.New(reg, validate.DefaultLimits()), guard, time.Second, logger)
	hub := websocket.NewHub(reg.IDs(), logger)
	svc.SetNotifier(hub)

	h := NewHandler(svc, hub, Options{MaxBodyBytes: 1024, RequestTimeout: 5 * time.Second}, logger)
	return &testEnv{router: h.Router(), store: store}
}

func (e *testEnv) do(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestSubmitScore_Accepted(t *testing.T) {
	env := newTestEnv(t, ratelimit.Policy{}, ratelimit.Policy{})

	rec, body := env.do(t, http.MethodPost, "/scores",
		`{"game":"square-rush","player_name":"ABC","score":5000,"level":"MASTER","time_ms":60000}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["rank"])
	assert.Equal(t, float64(1), body["totalPlayers"])
	assert.NotContains(t, body, "data")
}

func TestSubmitScore_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantError string
	}{
		{
			name:      "missing fields",
			body:      `{"game":"square-rush"}`,
			wantError: "Missing required fields: game, player_name, score",
		},
		{
			name:      "over the ceiling",
			body:      `{"game":"knight-quest","player_name":"ABC","score":50001}`,
			wantError: "Score exceeds maximum allowed for Knight Quest (50000)",
		},
		{
			name:      "fractional score",
			body:      `{"game":"knight-quest","player_name":"ABC","score":1.5}`,
			wantError: "Score must be a non-negative integer",
		},
		{
			name:      "bad level",
			body:      `{"game":"square-rush","player_name":"ABC","score":1,"level":"GOD"}`,
			wantError: "Invalid level. Must be one of: NOVICE, INTERMEDIATE, ADVANCED, EXPERT, MASTER",
		},
		{
			name:      "lowercase country",
			body:      `{"game":"square-rush","player_name":"ABC","score":1,"country_code":"ar"}`,
			wantError: "Country code must be 2 uppercase letters",
		},
		{
			name:      "unknown field",
			body:      `{"game":"square-rush","player_name":"ABC","score":1,"bonus":10}`,
			wantError: "Invalid request body",
		},
		{
			name:      "trailing data",
			body:      `{"game":"square-rush","player_name":"ABC","score":1} {"x":1}`,
			wantError: "Invalid request body",
		},
		{
			name:      "metadata not an object",
			body:      `{"game":"square-rush","player_name":"ABC","score":1,"metadata":"x"}`,
			wantError: "Invalid request body",
		},
		{
			name:      "too large",
			body:      `{"game":"square-rush","player_name":"ABC","score":1,"metadata":{"pad":"` + strings.Repeat("x", 2048) + `"}}`,
			wantError: "Invalid request body",
		},
		{
			name:      "not json",
			body:      `game=square-rush`,
			wantError: "Invalid request body",
		},
	}

	env := newTestEnv(t, ratelimit.Policy{}, ratelimit.Policy{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := env.do(t, http.MethodPost, "/scores", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.wantError, body["error"])
		})
	}

	count, err := env.store.Count(context.Background(), "square-rush", domain.ScoreFilter{})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSubmitScore_RateLimited(t *testing.T) {
	env := newTestEnv(t, ratelimit.Policy{}, ratelimit.Policy{Requests: 1, Window: time.Minute})

	rec, _ := env.do(t, http.MethodPost, "/scores", `{"game":"chessinfive","player_name":"Bo","score":3}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := env.do(t, http.MethodPost, "/scores", `{"game":"chessinfive","player_name":"Bo","score":4}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Too many requests, please try again later", body["error"])
	retry, ok := body["retryAfter"].(float64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, retry, float64(1))
	assert.Equal(t, strconv.Itoa(int(retry)), rec.Header().Get("Retry-After"))

	// reads use their own policy
	rec, _ = env.do(t, http.MethodGet, "/scores/leaderboard?game=chessinfive", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitScore_MalformedBodiesCountAgainstQuota(t *testing.T) {
	env := newTestEnv(t, ratelimit.Policy{}, ratelimit.Policy{Requests: 1, Window: time.Minute})

	rec, body := env.do(t, http.MethodPost, "/scores", `{"game":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request body", body["error"])

	rec, body = env.do(t, http.MethodPost, "/scores", `{"game":`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Too many requests, please try again later", body["error"])
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec, _ = env.do(t, http.MethodPost, "/scores", `{"game":"chessinfive","player_name":"Bo","score":3}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	total, err := env.store.Count(context.Background(), "chessinfive", domain.ScoreFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestGetLeaderboard_OffsetAtIntMax(t *testing.T) {
	env := newTestEnv(t, ratelimit.Policy{}, ratelimit.Policy{})
	env.do(t, http.MethodPost, "/scores", `{"game":"square-rush","player_name":"Solo","score":10}`)

	rec, body := env.do(t, http.MethodGet, "/scores/leaderboard?game=square-rush&offset=9223372036854775807", "")
	require.Equal(t, http.StatusOK, rec.Code)

	data := body["data"].(map[string]any)
	assert.Empty(t, data["scores"])
	pagination := data["pagination"].(map[string]any)
	assert.Equal(t, false, pagination["hasMore"])
	assert.Equal(t, float64(1), pagination["total"])
}

func TestGetLeaderboard(t *testing.T) {
	env := newTestEnv(t, ratelimit.Policy{}, ratelimit.Policy{})
	env.do(t, http.MethodPost, "/scores", `{"game":"square-rush","player_name":"Low","score":10,"country_code":"ES"}`)
	env.do(t, http.MethodPost, "/scores", `{"game":"square-rush","player_name":"High","score":90,"country_code":"AR","metadata":{"moves":12}}`)
	env.do(t, http.MethodPost, "/scores", `{"game":"square-rush","player_name":"Mid","score":50}`)

	rec, body := env.do(t, http.MethodGet, "/scores/leaderboard?game=square-rush&limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])

	data := body["data"].(map[string]any)
	assert.Equal(t, "square-rush", data["game"])

	scores := data["scores"].([]any)
	require.Len(t, scores, 2)
	first := scores[0].(map[string]any)
	assert.Equal(t, float64(1), first["rank"])
	assert.Equal(t, "High", first["player_name"])
	assert.Equal(t, map[string]any{"code": "AR", "name": "Argentina"}, first["country"])
	assert.Equal(t, map[string]any{"moves": float64(12)}, first["metadata"])
	assert.Contains(t, first, "id")
	assert.Contains(t, first, "created_at")
	assert.NotContains(t, first, "seq")

	second := scores[1].(map[string]any)
	assert.Nil(t, second["country"])
	assert.Equal(t, map[string]any{}, second["metadata"])

	pagination := data["pagination"].(map[string]any)
	assert.Equal(t, map[string]any{"limit": float64(2), "offset": float64(0), "total": float64(3), "hasMore": true}, pagination)
	assert.Equal(t, map[string]any{"country": nil, "level": nil}, data["filters"])

	rec, body = env.do(t, http.MethodGet, "/scores/leaderboard?game=square-rush&country=ES", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data = body["data"].(map[string]any)
	assert.Len(t, data["scores"], 1)
	assert.Equal(t, "ES", data["filters"].(map[string]any)["country"])
}

func TestGetLeaderboard_BadParams(t *testing.T) {
	env := newTestEnv(t, ratelimit.Policy{}, ratelimit.Policy{})

	tests := []struct {
		target string
		want   string
	}{
		{target: "/scores/leaderboard", want: "game parameter is required"},
		{target: "/scores/leaderboard?game=checkers", want: "Invalid game. Must be one of: square-rush, knight-quest, memory-matrix, master-sequence, chessinfive, criptosopa"},
		{target: "/scores/leaderboard?game=square-rush&limit=101", want: "Limit must be an integer between 1 and 100"},
		{target: "/scores/leaderboard?game=square-rush&offset=-1", want: "Offset must be a non-negative integer"},
		{target: "/scores/leaderboard?game=square-rush&country=usa", want: "Country must be a 2-letter uppercase code"},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec, body := env.do(t, http.MethodGet, tt.target, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, body["error"])
		})
	}
}

func TestSearchGamesAndStats(t *testing.T) {
	env := newTestEnv(t, ratelimit.Policy{}, ratelimit.Policy{})
	env.do(t, http.MethodPost, "/scores", `{"game":"criptosopa","player_name":"Zed","score":900}`)
	env.do(t, http.MethodPost, "/scores", `{"game":"criptosopa","player_name":"Ana","score":500}`)

	rec, body := env.do(t, http.MethodGet, "/scores/search?game=criptosopa&player_name=ana", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	scores := data["scores"].([]any)
	require.Len(t, scores, 1)
	assert.Equal(t, float64(2), scores[0].(map[string]any)["rank"])

	rec, body = env.do(t, http.MethodGet, "/scores/search?game=criptosopa", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "player_name parameter is required", body["error"])

	rec, body = env.do(t, http.MethodGet, "/scores/games", "")
	require.Equal(t, http.StatusOK, rec.Code)
	games := body["data"].([]any)
	require.Len(t, games, 6)
	assert.Equal(t, "square-rush", games[0].(map[string]any)["id"])
	assert.Equal(t, "wins", games[4].(map[string]any)["score_type"])

	rec, body = env.do(t, http.MethodGet, "/scores/stats?game=criptosopa", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{
		"game": "criptosopa", "total_scores": float64(2), "unique_players": float64(2), "top_score": float64(900),
	}, body["data"])
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, ratelimit.Policy{}, ratelimit.Policy{})

	rec, body := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["data"].(map[string]any)["status"])

	rec, _ = env.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, env.store.Close())
	rec, body = env.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, body["success"])
}

func TestStorageFailureIsGeneric(t *testing.T) {
	env := newTestEnv(t, ratelimit.Policy{}, ratelimit.Policy{})
	require.NoError(t, env.store.Close())

	rec, body := env.do(t, http.MethodPost, "/scores", `{"game":"square-rush","player_name":"ABC","score":1}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", body["error"])
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, ratelimit.Policy{}, ratelimit.Policy{})

	req := httptest.NewRequest(http.MethodOptions, "/scores", nil)
	req.Header.Set("Origin", "https://arcade.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestClientAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:5555"
	assert.Equal(t, "203.0.113.9", clientAddr(req))

	req.RemoteAddr = "203.0.113.9"
	assert.Equal(t, "203.0.113.9", clientAddr(req))
}
