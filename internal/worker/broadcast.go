package worker

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/chessarcade/leaderboard/internal/config"
	"github.com/chessarcade/leaderboard/internal/domain"
)

// TopReader returns the head of a game's leaderboard
type TopReader interface {
	TopN(ctx context.Context, game string, n int) ([]domain.RankedEntry, int64, error)
}

// Publisher pushes snapshots to live subscribers
type Publisher interface {
	SubscribedGames() []string
	BroadcastLeaderboardUpdate(game string, entries []domain.RankedEntry, totalPlayers int64)
}

// Broadcaster periodically pushes top-N snapshots for games that have subscribers
type Broadcaster struct {
	reader    TopReader
	publisher Publisher
	config    *config.BroadcastConfig
	logger    *slog.Logger
	stopCh    chan struct{}
	doneCh    chan struct{}
	mu        sync.Mutex
	running   bool
}

// NewBroadcaster creates a new broadcast worker
func NewBroadcaster(
	reader TopReader,
	publisher Publisher,
	cfg *config.BroadcastConfig,
	logger *slog.Logger,
) *Broadcaster {
	return &Broadcaster{
		reader:    reader,
		publisher: publisher,
		config:    cfg,
		logger:    logger,
	}
}

// Start begins the background broadcast loop
func (w *Broadcaster) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	w.logger.Info("broadcast worker started", "interval", w.config.Interval, "top_n", w.config.TopN)

	go w.run(ctx, w.stopCh, w.doneCh)
	return nil
}

// Stop stops the background broadcast loop and waits for it to exit
func (w *Broadcaster) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	stopCh, doneCh := w.stopCh, w.doneCh
	w.running = false
	w.mu.Unlock()

	close(stopCh)
	<-doneCh

	w.logger.Info("broadcast worker stopped")
	return nil
}

// run is the main worker loop
func (w *Broadcaster) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce pushes one snapshot to every game with subscribers and returns
// how many games were published
func (w *Broadcaster) RunOnce(ctx context.Context) int {
	games := w.publisher.SubscribedGames()
	sort.Strings(games)

	published := 0
	for _, game := range games {
		entries, total, err := w.reader.TopN(ctx, game, w.config.TopN)
		if err != nil {
			w.logger.Error("failed to load leaderboard snapshot",
				"game", game,
				"error", err,
			)
			continue
		}
		w.publisher.BroadcastLeaderboardUpdate(game, entries, total)
		published++
	}

	if published > 0 {
		w.logger.Debug("broadcast cycle completed", "games", published)
	}
	return published
}

// IsRunning returns whether the worker is currently running
func (w *Broadcaster) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
