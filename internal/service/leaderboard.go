package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/chessarcade/leaderboard/internal/country"
	"github.com/chessarcade/leaderboard/internal/domain"
	"github.com/chessarcade/leaderboard/internal/ratelimit"
	"github.com/chessarcade/leaderboard/internal/validate"
	"golang.org/x/sync/errgroup"
)

// Store persists score records and answers ranked reads
type Store interface {
	Insert(ctx context.Context, rec domain.ScoreRecord) (domain.ScoreRecord, error)
	QueryRanked(ctx context.Context, game string, f domain.ScoreFilter, limit, offset int) ([]domain.RankedEntry, error)
	Count(ctx context.Context, game string, f domain.ScoreFilter) (int64, error)
	RankOf(ctx context.Context, rec domain.ScoreRecord) (int64, error)
	SearchByName(ctx context.Context, q domain.SearchQuery) ([]domain.RankedEntry, error)
	Stats(ctx context.Context, game string) (domain.GameStats, error)
	Ping(ctx context.Context) error
}

// RateGuard rejects clients that exceeded a named policy
type RateGuard interface {
	Check(ctx context.Context, policy, client string) error
}

// Notifier is told about every accepted score
type Notifier interface {
	BroadcastScore(game string, entry domain.RankedEntry, totalPlayers int64)
}

// LeaderboardService provides business logic for leaderboard operations
type LeaderboardService struct {
	store     Store
	validator *validate.Validator
	guard     RateGuard
	notifier  Notifier
	timeout   time.Duration
	logger    *slog.Logger
}

// NewLeaderboardService creates a new leaderboard service
func NewLeaderboardService(
	store Store,
	validator *validate.Validator,
	guard RateGuard,
	timeout time.Duration,
	logger *slog.Logger,
) *LeaderboardService {
	return &LeaderboardService{
		store:     store,
		validator: validator,
		guard:     guard,
		timeout:   timeout,
		logger:    logger,
	}
}

// SetNotifier sets the receiver of accepted score notifications
func (s *LeaderboardService) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *LeaderboardService) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorage, err)
}

func storedError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w: %w", op, domain.ErrScoreStored, domain.ErrStorage, err)
}

// SubmitScore rate-limits, validates and stores a score submitted by client
func (s *LeaderboardService) SubmitScore(ctx context.Context, client string, sub domain.ScoreSubmission) (domain.SubmitResult, error) {
	if err := s.CheckWrite(ctx, client); err != nil {
		return domain.SubmitResult{}, err
	}
	return s.Ingest(ctx, sub)
}

// CheckWrite charges one submission against client's write quota
func (s *LeaderboardService) CheckWrite(ctx context.Context, client string) error {
	return s.guard.Check(ctx, ratelimit.Write, client)
}

// Ingest validates and stores a submission from a trusted source.
// Failures after the insert wrap domain.ErrScoreStored.
func (s *LeaderboardService) Ingest(ctx context.Context, sub domain.ScoreSubmission) (domain.SubmitResult, error) {
	if err := s.validator.ValidateSubmission(sub); err != nil {
		return domain.SubmitResult{}, err
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	saved, err := s.store.Insert(ctx, newRecord(sub))
	if err != nil {
		return domain.SubmitResult{}, storageError("inserting score", err)
	}

	rank, err := s.store.RankOf(ctx, saved)
	if err != nil {
		return domain.SubmitResult{}, storedError("ranking score", err)
	}

	total, err := s.store.Count(ctx, saved.Game, domain.ScoreFilter{})
	if err != nil {
		return domain.SubmitResult{}, storedError("counting scores", err)
	}

	entry := saved.Ranked(rank)
	if s.notifier != nil {
		s.notifier.BroadcastScore(saved.Game, entry, total)
	}

	s.logger.Debug("score accepted",
		"game", saved.Game,
		"id", saved.ID,
		"score", saved.Score,
		"rank", rank,
	)

	return domain.SubmitResult{
		Rank:         rank,
		TotalPlayers: total,
		Entry:        entry,
	}, nil
}

func newRecord(sub domain.ScoreSubmission) domain.ScoreRecord {
	rec := domain.ScoreRecord{
		Game:       sub.Game,
		PlayerName: *sub.PlayerName,
		Score:      validate.ScoreValue(sub),
		TimeMS:     validate.TimeValue(sub),
		Metadata:   sub.Metadata,
	}
	if sub.Level != nil {
		level := *sub.Level
		rec.Level = &level
	}
	if sub.CountryCode != nil {
		code := *sub.CountryCode
		name := country.Name(code)
		rec.CountryCode = &code
		rec.CountryName = &name
	}
	return rec
}

// GetLeaderboard returns one ranked page of a game's leaderboard
func (s *LeaderboardService) GetLeaderboard(ctx context.Context, client string, params url.Values) (domain.LeaderboardPage, error) {
	if err := s.guard.Check(ctx, ratelimit.Read, client); err != nil {
		return domain.LeaderboardPage{}, err
	}

	q, err := s.validator.ValidateLeaderboardParams(params)
	if err != nil {
		return domain.LeaderboardPage{}, err
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	var (
		entries []domain.RankedEntry
		total   int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entries, err = s.store.QueryRanked(gctx, q.Game, q.Filter(), q.Limit, q.Offset)
		if err != nil {
			return storageError("querying leaderboard", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		total, err = s.store.Count(gctx, q.Game, q.Filter())
		if err != nil {
			return storageError("counting leaderboard", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.LeaderboardPage{}, err
	}

	if entries == nil {
		entries = []domain.RankedEntry{}
	}

	page := domain.LeaderboardPage{
		Game:   q.Game,
		Scores: entries,
		Pagination: domain.Pagination{
			Limit:   q.Limit,
			Offset:  q.Offset,
			Total:   total,
			HasMore: int64(q.Offset) < total && int64(q.Limit) < total-int64(q.Offset),
		},
	}
	if q.Country != "" {
		page.Filters.Country = &q.Country
	}
	if q.Level != "" {
		page.Filters.Level = &q.Level
	}
	return page, nil
}

// SearchPlayer returns a player's records in a game with their global ranks
func (s *LeaderboardService) SearchPlayer(ctx context.Context, client string, params url.Values) (domain.SearchResult, error) {
	if err := s.guard.Check(ctx, ratelimit.Read, client); err != nil {
		return domain.SearchResult{}, err
	}

	q, err := s.validator.ValidateSearchParams(params)
	if err != nil {
		return domain.SearchResult{}, err
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	entries, err := s.store.SearchByName(ctx, q)
	if err != nil {
		return domain.SearchResult{}, storageError("searching player", err)
	}
	if entries == nil {
		entries = []domain.RankedEntry{}
	}

	return domain.SearchResult{
		Game:       q.Game,
		PlayerName: q.PlayerName,
		Scores:     entries,
	}, nil
}

// ListGames returns the registered games in registration order
func (s *LeaderboardService) ListGames(ctx context.Context, client string) ([]domain.GameLimits, error) {
	if err := s.guard.Check(ctx, ratelimit.Read, client); err != nil {
		return nil, err
	}
	return s.validator.Registry().Games(), nil
}

// GetStats returns aggregate statistics for a game
func (s *LeaderboardService) GetStats(ctx context.Context, client string, params url.Values) (domain.GameStats, error) {
	if err := s.guard.Check(ctx, ratelimit.Read, client); err != nil {
		return domain.GameStats{}, err
	}

	game, err := s.validator.ValidateGameParam(params)
	if err != nil {
		return domain.GameStats{}, err
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	stats, err := s.store.Stats(ctx, game)
	if err != nil {
		return domain.GameStats{}, storageError("getting stats", err)
	}
	stats.Game = game
	return stats, nil
}

// TopN returns the first n entries of a game's leaderboard and its total size
func (s *LeaderboardService) TopN(ctx context.Context, game string, n int) ([]domain.RankedEntry, int64, error) {
	if !s.validator.Registry().IsValidGame(game) {
		return nil, 0, domain.ErrUnknownGame
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	entries, err := s.store.QueryRanked(ctx, game, domain.ScoreFilter{}, n, 0)
	if err != nil {
		return nil, 0, storageError("querying top scores", err)
	}
	total, err := s.store.Count(ctx, game, domain.ScoreFilter{})
	if err != nil {
		return nil, 0, storageError("counting scores", err)
	}
	return entries, total, nil
}

// Games returns registered game ids in registration order
func (s *LeaderboardService) Games() []string {
	return s.validator.Registry().IDs()
}

// Ready reports whether the store is reachable
func (s *LeaderboardService) Ready(ctx context.Context) error {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	return s.store.Ping(ctx)
}
