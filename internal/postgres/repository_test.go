package postgres

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/chessarcade/leaderboard/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) (*Repository, string) {
	t.Helper()
	url := os.Getenv("LEADERBOARD_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("LEADERBOARD_TEST_POSTGRES_URL not set")
	}

	poolConfig, err := pgxpool.ParseConfig(url)
	require.NoError(t, err)

	ctx := context.Background()
	repo, err := connect(ctx, poolConfig, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	require.NoError(t, repo.RunMigrations(ctx))

	// each test ranks its own game so runs do not interfere
	game := "test-" + uuid.NewString()[:8]
	t.Cleanup(func() {
		_, _ = repo.pool.Exec(context.Background(), `DELETE FROM scores WHERE game = $1`, game)
	})
	return repo, game
}

func TestRepository_RankingAndMetadata(t *testing.T) {
	repo, game := newTestRepository(t)
	ctx := context.Background()
	code, name := "AR", "Argentina"

	first, err := repo.Insert(ctx, domain.ScoreRecord{Game: game, PlayerName: "First", Score: 500, Metadata: map[string]any{"a": 1}})
	require.NoError(t, err)
	second, err := repo.Insert(ctx, domain.ScoreRecord{Game: game, PlayerName: "Second", Score: 500, CountryCode: &code, CountryName: &name})
	require.NoError(t, err)
	_, err = repo.Insert(ctx, domain.ScoreRecord{Game: game, PlayerName: "top", Score: 900})
	require.NoError(t, err)

	assert.Less(t, first.Seq, second.Seq)

	r1, err := repo.RankOf(ctx, first)
	require.NoError(t, err)
	r2, err := repo.RankOf(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), r1)
	assert.Equal(t, int64(3), r2)

	entries, err := repo.QueryRanked(ctx, game, domain.ScoreFilter{}, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "top", entries[0].PlayerName)
	assert.Equal(t, float64(1), entries[1].Metadata["a"])
	assert.Equal(t, first.ID, entries[1].ID)

	filtered, err := repo.QueryRanked(ctx, game, domain.ScoreFilter{Country: "AR"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, &domain.Country{Code: "AR", Name: "Argentina"}, filtered[0].Country)

	count, err := repo.Count(ctx, game, domain.ScoreFilter{Country: "AR"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	found, err := repo.SearchByName(ctx, domain.SearchQuery{Game: game, PlayerName: "TOP", Limit: 5})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, int64(1), found[0].Rank)

	stats, err := repo.Stats(ctx, game)
	require.NoError(t, err)
	assert.Equal(t, domain.GameStats{Game: game, TotalScores: 3, UniquePlayers: 3, TopScore: 900}, stats)

	assert.NoError(t, repo.Ping(ctx))
}
