// Package validate checks score submissions and leaderboard queries against
// the game registry. Every check returns the first rule that failed.
package validate

import (
	"regexp"
	"strings"

	"github.com/chessarcade/leaderboard/internal/domain"
	"github.com/chessarcade/leaderboard/internal/registry"
)

const (
	minNameLength = 1
	maxNameLength = 15
)

var (
	playerNamePattern  = regexp.MustCompile(`^[A-Za-z0-9 ._\-!@#$%&*()+=]+$`)
	countryCodePattern = regexp.MustCompile(`^[A-Z]{2}$`)
)

// Limits bounds the page sizes of read queries
type Limits struct {
	DefaultLimit       int
	MaxLimit           int
	SearchDefaultLimit int
	SearchMaxLimit     int
}

// DefaultLimits returns the stock page size bounds
func DefaultLimits() Limits {
	return Limits{
		DefaultLimit:       50,
		MaxLimit:           100,
		SearchDefaultLimit: 20,
		SearchMaxLimit:     50,
	}
}

// Validator validates requests against a game registry
type Validator struct {
	registry *registry.Registry
	limits   Limits
}

// New creates a validator bound to reg
func New(reg *registry.Registry, limits Limits) *Validator {
	return &Validator{
		registry: reg,
		limits:   limits,
	}
}

// Registry returns the registry the validator checks against
func (v *Validator) Registry() *registry.Registry {
	return v.registry
}

func (v *Validator) invalidGame() *domain.ValidationError {
	return domain.Invalid("Invalid game. Must be one of: %s", strings.Join(v.registry.IDs(), ", "))
}

func invalidLevel() *domain.ValidationError {
	names := make([]string, len(domain.Levels))
	for i, l := range domain.Levels {
		names[i] = string(l)
	}
	return domain.Invalid("Invalid level. Must be one of: %s", strings.Join(names, ", "))
}

func nameLengthOK(name string) bool {
	n := len([]rune(name))
	return n >= minNameLength && n <= maxNameLength
}
