package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/chessarcade/leaderboard/internal/domain"
	"github.com/chessarcade/leaderboard/internal/service"
	"github.com/chessarcade/leaderboard/internal/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	gorilla "github.com/gorilla/websocket"
)

const (
	msgInvalidBody = "Invalid request body"
	msgInternal    = "Internal server error"
)

// Options configures the HTTP layer
type Options struct {
	AllowedOrigins []string
	MaxBodyBytes   int64
	RequestTimeout time.Duration
}

// Handler provides HTTP handlers for the leaderboard API
type Handler struct {
	service  *service.LeaderboardService
	hub      *websocket.Hub
	upgrader gorilla.Upgrader
	opts     Options
	logger   *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(service *service.LeaderboardService, hub *websocket.Hub, opts Options, logger *slog.Logger) *Handler {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 << 10
	}
	return &Handler{
		service:  service,
		hub:      hub,
		upgrader: websocket.NewUpgrader(opts.AllowedOrigins),
		opts:     opts,
		logger:   logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SubmitResponse is the body of an accepted score submission
type SubmitResponse struct {
	Success      bool  `json:"success"`
	Rank         int64 `json:"rank"`
	TotalPlayers int64 `json:"totalPlayers"`
}

// RateLimitResponse is the body of a 429
type RateLimitResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint, outside the request timeout
	r.Get("/ws", h.HandleWebSocket)

	r.Route("/scores", func(r chi.Router) {
		if h.opts.RequestTimeout > 0 {
			r.Use(middleware.Timeout(h.opts.RequestTimeout))
		}
		r.Post("/", h.SubmitScore)
		r.Get("/leaderboard", h.GetLeaderboard)
		r.Get("/search", h.SearchPlayer)
		r.Get("/games", h.ListGames)
		r.Get("/stats", h.GetStats)
	})

	return r
}

// clientAddr returns the rate limit key for a request. RealIP has already
// replaced RemoteAddr when a proxy header was present.
func clientAddr(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to write response", "error", err)
	}
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data any) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeMessage writes an error JSON response
func (h *Handler) writeMessage(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   msg,
	})
}

// writeError maps a service error onto a status code and body
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var (
		verr  *domain.ValidationError
		rlErr *domain.RateLimitError
	)
	switch {
	case errors.As(err, &verr):
		h.writeMessage(w, http.StatusBadRequest, verr.Reason)
	case errors.As(err, &rlErr):
		w.Header().Set("Retry-After", strconv.Itoa(rlErr.RetryAfter))
		h.writeJSON(w, http.StatusTooManyRequests, RateLimitResponse{
			Success:    false,
			Error:      rlErr.Message,
			RetryAfter: rlErr.RetryAfter,
		})
	default:
		h.logger.Error("request failed",
			"op", op,
			"game", r.URL.Query().Get("game"),
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		h.writeMessage(w, http.StatusInternalServerError, msgInternal)
	}
}

// decodeSubmission strictly decodes a single JSON object from the body
func (h *Handler) decodeSubmission(w http.ResponseWriter, r *http.Request) (domain.ScoreSubmission, error) {
	var sub domain.ScoreSubmission
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sub); err != nil {
		return domain.ScoreSubmission{}, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return domain.ScoreSubmission{}, fmt.Errorf("%w: trailing data", domain.ErrInvalidRequest)
	}
	return sub, nil
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, &h.upgrader, h.logger, w, r)
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]any{
		"status":      "healthy",
		"connections": h.hub.GetTotalConnections(),
	})
}

// ReadyCheck reports whether the store is reachable
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ready(r.Context()); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		h.writeMessage(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// SubmitScore handles score submission
func (h *Handler) SubmitScore(w http.ResponseWriter, r *http.Request) {
	// Every attempt counts against the quota, including unreadable bodies.
	if err := h.service.CheckWrite(r.Context(), clientAddr(r)); err != nil {
		h.writeError(w, r, "submit score", err)
		return
	}

	sub, err := h.decodeSubmission(w, r)
	if err != nil {
		h.logger.Debug("rejected submission body", "error", err)
		h.writeMessage(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	result, err := h.service.Ingest(r.Context(), sub)
	if err != nil {
		h.writeError(w, r, "submit score", err)
		return
	}

	h.writeJSON(w, http.StatusOK, SubmitResponse{
		Success:      true,
		Rank:         result.Rank,
		TotalPlayers: result.TotalPlayers,
	})
}

// GetLeaderboard returns one ranked page of a game's leaderboard
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.GetLeaderboard(r.Context(), clientAddr(r), r.URL.Query())
	if err != nil {
		h.writeError(w, r, "get leaderboard", err)
		return
	}
	h.writeSuccess(w, page)
}

// SearchPlayer returns a player's scores with their global ranks
func (h *Handler) SearchPlayer(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.SearchPlayer(r.Context(), clientAddr(r), r.URL.Query())
	if err != nil {
		h.writeError(w, r, "search player", err)
		return
	}
	h.writeSuccess(w, result)
}

// ListGames returns the registered games and their limits
func (h *Handler) ListGames(w http.ResponseWriter, r *http.Request) {
	games, err := h.service.ListGames(r.Context(), clientAddr(r))
	if err != nil {
		h.writeError(w, r, "list games", err)
		return
	}
	h.writeSuccess(w, games)
}

// GetStats returns aggregate statistics for a game
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetStats(r.Context(), clientAddr(r), r.URL.Query())
	if err != nil {
		h.writeError(w, r, "get stats", err)
		return
	}
	h.writeSuccess(w, stats)
}
