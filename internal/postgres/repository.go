package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chessarcade/leaderboard/internal/config"
	"github.com/chessarcade/leaderboard/internal/domain"
	"github.com/chessarcade/leaderboard/internal/scorequery"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL-based score storage
type Repository struct {
	pool    *pgxpool.Pool
	dialect scorequery.Dialect
	logger  *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	return connect(context.Background(), poolConfig, logger)
}

func connect(ctx context.Context, poolConfig *pgxpool.Config, logger *slog.Logger) (*Repository, error) {
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:    pool,
		dialect: scorequery.Postgres,
		logger:  logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks the connection pool
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS scores (
			seq BIGSERIAL PRIMARY KEY,
			id VARCHAR(36) NOT NULL UNIQUE,
			game VARCHAR(64) NOT NULL,
			player_name VARCHAR(64) NOT NULL,
			score BIGINT NOT NULL,
			level VARCHAR(16),
			time_ms BIGINT,
			country_code CHAR(2),
			country_name VARCHAR(128),
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_ranking ON scores(game, score DESC, created_at ASC, seq ASC)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_country ON scores(game, country_code, score DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_level ON scores(game, level, score DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_player ON scores(game, LOWER(player_name))`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// Insert stores a new record; the database assigns its sequence and creation time
func (r *Repository) Insert(ctx context.Context, rec domain.ScoreRecord) (domain.ScoreRecord, error) {
	metadataJSON, err := scorequery.EncodeMetadata(rec.Metadata)
	if err != nil {
		return domain.ScoreRecord{}, fmt.Errorf("marshaling metadata: %w", err)
	}

	rec.ID = uuid.NewString()
	query := `
		INSERT INTO scores (id, game, player_name, score, level, time_ms, country_code, country_name, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq, created_at
	`
	err = r.pool.QueryRow(ctx, query,
		rec.ID,
		rec.Game,
		rec.PlayerName,
		rec.Score,
		rec.Level,
		rec.TimeMS,
		rec.CountryCode,
		rec.CountryName,
		metadataJSON,
	).Scan(&rec.Seq, &rec.CreatedAt)
	if err != nil {
		return domain.ScoreRecord{}, fmt.Errorf("inserting score: %w", err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

// QueryRanked returns one page of a game's records in ranking order
func (r *Repository) QueryRanked(ctx context.Context, game string, f domain.ScoreFilter, limit, offset int) ([]domain.RankedEntry, error) {
	st := r.dialect.Ranked(game, f, limit, offset)
	rows, err := r.pool.Query(ctx, st.SQL, st.Args...)
	if err != nil {
		return nil, fmt.Errorf("querying ranked scores: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.RankedEntry, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, rec.Ranked(int64(offset+len(entries)+1)))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ranked scores: %w", err)
	}
	return entries, nil
}

// Count returns the number of a game's records matching the filter
func (r *Repository) Count(ctx context.Context, game string, f domain.ScoreFilter) (int64, error) {
	st := r.dialect.Count(game, f)
	var count int64
	if err := r.pool.QueryRow(ctx, st.SQL, st.Args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting scores: %w", err)
	}
	return count, nil
}

// RankOf returns the 1-based position of rec within its game
func (r *Repository) RankOf(ctx context.Context, rec domain.ScoreRecord) (int64, error) {
	st := r.dialect.Ahead(rec)
	var ahead int64
	if err := r.pool.QueryRow(ctx, st.SQL, st.Args...).Scan(&ahead); err != nil {
		return 0, fmt.Errorf("ranking score: %w", err)
	}
	return ahead + 1, nil
}

// SearchByName returns a player's records with their rank across the game
func (r *Repository) SearchByName(ctx context.Context, q domain.SearchQuery) ([]domain.RankedEntry, error) {
	st := r.dialect.SearchByName(q)
	rows, err := r.pool.Query(ctx, st.SQL, st.Args...)
	if err != nil {
		return nil, fmt.Errorf("searching scores: %w", err)
	}
	defer rows.Close()

	var entries []domain.RankedEntry
	for rows.Next() {
		var rank int64
		rec, err := scanRecord(rows, &rank)
		if err != nil {
			return nil, err
		}
		entries = append(entries, rec.Ranked(rank))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search results: %w", err)
	}
	return entries, nil
}

// Stats aggregates totals for a game
func (r *Repository) Stats(ctx context.Context, game string) (domain.GameStats, error) {
	st := r.dialect.Stats(game)
	stats := domain.GameStats{Game: game}
	err := r.pool.QueryRow(ctx, st.SQL, st.Args...).Scan(
		&stats.TotalScores,
		&stats.UniquePlayers,
		&stats.TopScore,
	)
	if err != nil {
		return domain.GameStats{}, fmt.Errorf("getting stats: %w", err)
	}
	return stats, nil
}

func scanRecord(row pgx.Row, extra ...any) (domain.ScoreRecord, error) {
	var (
		rec      domain.ScoreRecord
		metadata []byte
	)
	dest := []any{
		&rec.ID,
		&rec.Seq,
		&rec.Game,
		&rec.PlayerName,
		&rec.Score,
		&rec.Level,
		&rec.TimeMS,
		&rec.CountryCode,
		&rec.CountryName,
		&metadata,
		&rec.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return domain.ScoreRecord{}, fmt.Errorf("scanning score: %w", err)
	}
	rec.Metadata = scorequery.DecodeMetadata(metadata)
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}
