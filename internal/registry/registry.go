// Package registry holds the per-game limits every other component consults.
package registry

import (
	"fmt"
	"strings"

	"github.com/chessarcade/leaderboard/internal/domain"
)

// Registry is an immutable, ordered table of game limits
type Registry struct {
	ids   []string
	games map[string]domain.GameLimits
}

// New builds a registry from games in registration order
func New(games ...domain.GameLimits) (*Registry, error) {
	if len(games) == 0 {
		return nil, fmt.Errorf("registry needs at least one game")
	}

	r := &Registry{
		ids:   make([]string, 0, len(games)),
		games: make(map[string]domain.GameLimits, len(games)),
	}
	for _, g := range games {
		if strings.TrimSpace(g.ID) == "" {
			return nil, fmt.Errorf("game id is required")
		}
		if _, dup := r.games[g.ID]; dup {
			return nil, fmt.Errorf("duplicate game id %q", g.ID)
		}
		if g.MaxScore <= 0 {
			return nil, fmt.Errorf("game %q: max_score must be positive", g.ID)
		}
		if g.MaxTimeMS < 0 {
			return nil, fmt.Errorf("game %q: max_time_ms must not be negative", g.ID)
		}
		switch g.ScoreType {
		case domain.ScoreTypePoints, domain.ScoreTypeWins:
		default:
			return nil, fmt.Errorf("game %q: unknown score_type %q", g.ID, g.ScoreType)
		}
		if g.Name == "" {
			g.Name = g.ID
		}
		r.ids = append(r.ids, g.ID)
		r.games[g.ID] = g
	}
	return r, nil
}

// MustNew is like New but panics on an invalid table
func MustNew(games ...domain.GameLimits) *Registry {
	r, err := New(games...)
	if err != nil {
		panic(err)
	}
	return r
}

// Default returns the built-in arcade table
func Default() *Registry {
	return MustNew(DefaultGames()...)
}

// DefaultGames returns a copy of the built-in game table
func DefaultGames() []domain.GameLimits {
	return []domain.GameLimits{
		{ID: "square-rush", Name: "Square Rush", MaxScore: 100000, MaxTimeMS: 3600000, ScoreType: domain.ScoreTypePoints, HasLevels: true, HasTime: true},
		{ID: "knight-quest", Name: "Knight Quest", MaxScore: 50000, MaxTimeMS: 3600000, ScoreType: domain.ScoreTypePoints, HasLevels: true, HasTime: true},
		{ID: "memory-matrix", Name: "Memory Matrix", MaxScore: 100000, MaxTimeMS: 3600000, ScoreType: domain.ScoreTypePoints, HasLevels: true, HasTime: true},
		{ID: "master-sequence", Name: "Master Sequence", MaxScore: 50000, MaxTimeMS: 7200000, ScoreType: domain.ScoreTypePoints, HasLevels: false, HasTime: true},
		{ID: "chessinfive", Name: "ChessInFive", MaxScore: 1000, MaxTimeMS: 7200000, ScoreType: domain.ScoreTypeWins, HasLevels: false, HasTime: true},
		{ID: "criptosopa", Name: "CriptoSopa", MaxScore: 100000, MaxTimeMS: 3600000, ScoreType: domain.ScoreTypePoints, HasLevels: false, HasTime: true},
	}
}

// IsValidGame reports whether id is registered
func (r *Registry) IsValidGame(id string) bool {
	_, ok := r.games[id]
	return ok
}

// Game returns the limits of a registered game
func (r *Registry) Game(id string) (domain.GameLimits, bool) {
	g, ok := r.games[id]
	return g, ok
}

// IDs returns game ids in registration order
func (r *Registry) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

// Games returns all game limits in registration order
func (r *Registry) Games() []domain.GameLimits {
	out := make([]domain.GameLimits, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.games[id])
	}
	return out
}
