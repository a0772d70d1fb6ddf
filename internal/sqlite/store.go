// Package sqlite provides a SQLite-backed score store for local runs and tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chessarcade/leaderboard/internal/domain"
	"github.com/chessarcade/leaderboard/internal/scorequery"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store persists score records in SQLite
type Store struct {
	sqlDB   *sql.DB
	dialect scorequery.Dialect
	now     func() time.Time
	logger  *slog.Logger
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite score store and applies migrations
func Open(path string, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &Store{
		sqlDB:   sqlDB,
		dialect: scorequery.SQLite,
		now:     time.Now,
		logger:  logger,
	}
	if err := s.RunMigrations(context.Background()); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close closes the SQLite handle
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// RunMigrations creates the scores table and its indexes
func (s *Store) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS scores (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			game TEXT NOT NULL,
			player_name TEXT NOT NULL,
			score INTEGER NOT NULL,
			level TEXT,
			time_ms INTEGER,
			country_code TEXT,
			country_name TEXT,
			metadata TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_ranking ON scores(game, score DESC, created_at ASC, seq ASC)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_player ON scores(game, player_name)`,
	}

	for _, migration := range migrations {
		if _, err := s.sqlDB.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	s.logger.Debug("sqlite migrations completed")
	return nil
}

// Ping checks the database handle
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// Insert stores a new record, assigning its id, sequence and creation time
func (s *Store) Insert(ctx context.Context, rec domain.ScoreRecord) (domain.ScoreRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.ScoreRecord{}, err
	}

	metadata, err := scorequery.EncodeMetadata(rec.Metadata)
	if err != nil {
		return domain.ScoreRecord{}, fmt.Errorf("marshaling metadata: %w", err)
	}

	rec.ID = uuid.NewString()
	rec.CreatedAt = fromMillis(toMillis(s.now()))

	var metadataText sql.NullString
	if metadata != nil {
		metadataText = sql.NullString{String: string(metadata), Valid: true}
	}

	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO scores (id, game, player_name, score, level, time_ms, country_code, country_name, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Game,
		rec.PlayerName,
		rec.Score,
		rec.Level,
		rec.TimeMS,
		rec.CountryCode,
		rec.CountryName,
		metadataText,
		toMillis(rec.CreatedAt),
	)
	if err != nil {
		return domain.ScoreRecord{}, fmt.Errorf("inserting score: %w", err)
	}

	rec.Seq, err = res.LastInsertId()
	if err != nil {
		return domain.ScoreRecord{}, fmt.Errorf("reading score sequence: %w", err)
	}
	return rec, nil
}

// QueryRanked returns one page of a game's records in ranking order
func (s *Store) QueryRanked(ctx context.Context, game string, f domain.ScoreFilter, limit, offset int) ([]domain.RankedEntry, error) {
	st := s.dialect.Ranked(game, f, limit, offset)
	rows, err := s.sqlDB.QueryContext(ctx, st.SQL, st.Args...)
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
func (s *Store) Count(ctx context.Context, game string, f domain.ScoreFilter) (int64, error) {
	st := s.dialect.Count(game, f)
	var count int64
	if err := s.sqlDB.QueryRowContext(ctx, st.SQL, st.Args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting scores: %w", err)
	}
	return count, nil
}

// RankOf returns the 1-based position of rec within its game
func (s *Store) RankOf(ctx context.Context, rec domain.ScoreRecord) (int64, error) {
	st := s.dialect.Ahead(rec)
	var ahead int64
	if err := s.sqlDB.QueryRowContext(ctx, st.SQL, st.Args...).Scan(&ahead); err != nil {
		return 0, fmt.Errorf("ranking score: %w", err)
	}
	return ahead + 1, nil
}

// SearchByName returns a player's records with their rank across the game
func (s *Store) SearchByName(ctx context.Context, q domain.SearchQuery) ([]domain.RankedEntry, error) {
	st := s.dialect.SearchByName(q)
	rows, err := s.sqlDB.QueryContext(ctx, st.SQL, st.Args...)
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
func (s *Store) Stats(ctx context.Context, game string) (domain.GameStats, error) {
	st := s.dialect.Stats(game)
	stats := domain.GameStats{Game: game}
	err := s.sqlDB.QueryRowContext(ctx, st.SQL, st.Args...).Scan(
		&stats.TotalScores,
		&stats.UniquePlayers,
		&stats.TopScore,
	)
	if err != nil {
		return domain.GameStats{}, fmt.Errorf("getting stats: %w", err)
	}
	return stats, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner, extra ...any) (domain.ScoreRecord, error) {
	var (
		rec         domain.ScoreRecord
		level       sql.NullString
		timeMS      sql.NullInt64
		countryCode sql.NullString
		countryName sql.NullString
		metadata    sql.NullString
		createdAt   int64
	)
	dest := []any{
		&rec.ID,
		&rec.Seq,
		&rec.Game,
		&rec.PlayerName,
		&rec.Score,
		&level,
		&timeMS,
		&countryCode,
		&countryName,
		&metadata,
		&createdAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return domain.ScoreRecord{}, fmt.Errorf("scanning score: %w", err)
	}

	if level.Valid {
		rec.Level = &level.String
	}
	if timeMS.Valid {
		rec.TimeMS = &timeMS.Int64
	}
	if countryCode.Valid {
		rec.CountryCode = &countryCode.String
	}
	if countryName.Valid {
		rec.CountryName = &countryName.String
	}
	rec.Metadata = scorequery.DecodeMetadata([]byte(metadata.String))
	rec.CreatedAt = fromMillis(createdAt)
	return rec, nil
}
