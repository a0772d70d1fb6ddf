package validate

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/chessarcade/leaderboard/internal/domain"
	"github.com/chessarcade/leaderboard/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newValidator() *Validator {
	return New(registry.Default(), DefaultLimits())
}

func num(s string) *json.Number {
	n := json.Number(s)
	return &n
}

func str(s string) *string {
	return &s
}

func TestValidateSubmission(t *testing.T) {
	valid := func() domain.ScoreSubmission {
		return domain.NewSubmission("square-rush", "ABC", 5000).
			WithLevel("MASTER").
			WithTime(60000).
			WithCountry("AR")
	}

	tests := []struct {
		name    string
		mutate  func(s *domain.ScoreSubmission)
		wantErr string
	}{
		{name: "valid", mutate: func(s *domain.ScoreSubmission) {}},
		{name: "zero score is present", mutate: func(s *domain.ScoreSubmission) { s.Score = num("0") }},
		{name: "missing game", mutate: func(s *domain.ScoreSubmission) { s.Game = "" }, wantErr: "Missing required fields"},
		{name: "missing name", mutate: func(s *domain.ScoreSubmission) { s.PlayerName = nil }, wantErr: "Missing required fields"},
		{name: "missing score", mutate: func(s *domain.ScoreSubmission) { s.Score = nil }, wantErr: "Missing required fields"},
		{name: "unknown game", mutate: func(s *domain.ScoreSubmission) { s.Game = "checkers" }, wantErr: "Invalid game. Must be one of: square-rush, knight-quest"},
		{name: "empty name", mutate: func(s *domain.ScoreSubmission) { s.PlayerName = str("") }, wantErr: "between 1 and 15"},
		{name: "name of 1", mutate: func(s *domain.ScoreSubmission) { s.PlayerName = str("A") }},
		{name: "name of 15", mutate: func(s *domain.ScoreSubmission) { s.PlayerName = str(strings.Repeat("a", 15)) }},
		{name: "name of 16", mutate: func(s *domain.ScoreSubmission) { s.PlayerName = str(strings.Repeat("a", 16)) }, wantErr: "between 1 and 15"},
		{name: "name punctuation", mutate: func(s *domain.ScoreSubmission) { s.PlayerName = str("Player!#1") }},
		{name: "name full charset", mutate: func(s *domain.ScoreSubmission) { s.PlayerName = str("a._-!@#$%&*()+=") }},
		{name: "name emoji", mutate: func(s *domain.ScoreSubmission) { s.PlayerName = str("Player😀") }, wantErr: "invalid characters"},
		{name: "name accent", mutate: func(s *domain.ScoreSubmission) { s.PlayerName = str("José") }, wantErr: "invalid characters"},
		{name: "name angle bracket", mutate: func(s *domain.ScoreSubmission) { s.PlayerName = str("<b>x</b>") }, wantErr: "invalid characters"},
		{name: "negative score", mutate: func(s *domain.ScoreSubmission) { s.Score = num("-1") }, wantErr: "non-negative integer"},
		{name: "fractional score", mutate: func(s *domain.ScoreSubmission) { s.Score = num("10.5") }, wantErr: "non-negative integer"},
		{name: "score at ceiling", mutate: func(s *domain.ScoreSubmission) { s.Score = num("100000") }},
		{name: "score over ceiling", mutate: func(s *domain.ScoreSubmission) { s.Score = num("100001") }, wantErr: "Score exceeds maximum allowed for Square Rush (100000)"},
		{name: "negative time", mutate: func(s *domain.ScoreSubmission) { s.TimeMS = num("-5") }, wantErr: "Time must be a non-negative integer"},
		{name: "time over ceiling", mutate: func(s *domain.ScoreSubmission) { s.TimeMS = num("3600001") }, wantErr: "Time exceeds maximum"},
		{name: "no time", mutate: func(s *domain.ScoreSubmission) { s.TimeMS = nil }},
		{name: "bad level", mutate: func(s *domain.ScoreSubmission) { s.Level = str("GRANDMASTER") }, wantErr: "Invalid level"},
		{name: "lowercase level", mutate: func(s *domain.ScoreSubmission) { s.Level = str("master") }, wantErr: "Invalid level"},
		{name: "no level", mutate: func(s *domain.ScoreSubmission) { s.Level = nil }},
		{name: "lowercase country", mutate: func(s *domain.ScoreSubmission) { s.CountryCode = str("ar") }, wantErr: "Country code"},
		{name: "three letter country", mutate: func(s *domain.ScoreSubmission) { s.CountryCode = str("ARG") }, wantErr: "Country code"},
	}

	v := newValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := valid()
			tt.mutate(&sub)
			err := v.ValidateSubmission(sub)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, domain.IsValidationError(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateSubmission_CeilingWinsOverOtherFields(t *testing.T) {
	v := newValidator()
	for _, g := range registry.Default().Games() {
		sub := domain.NewSubmission(g.ID, "Cheater", g.MaxScore+1)
		err := v.ValidateSubmission(sub)
		require.Error(t, err, g.ID)
		assert.Contains(t, err.Error(), "Score exceeds maximum", g.ID)
	}
}

func TestValidateSubmission_FirstFailureWins(t *testing.T) {
	v := newValidator()
	sub := domain.NewSubmission("square-rush", "bad😀name", 999999999).WithCountry("zz")

	err := v.ValidateSubmission(sub)
	require.Error(t, err)
	assert.Equal(t, "Player name contains invalid characters", err.Error())
}

func TestValidateSubmission_LevelIgnoredWithoutLevels(t *testing.T) {
	v := newValidator()
	sub := domain.NewSubmission("chessinfive", "Bot", 3).WithLevel("WHATEVER")

	assert.NoError(t, v.ValidateSubmission(sub))
}

func TestValidateSubmission_TimeCeilingOnlyWithHasTime(t *testing.T) {
	reg := registry.MustNew(domain.GameLimits{
		ID: "endless", MaxScore: 10, MaxTimeMS: 100, ScoreType: domain.ScoreTypePoints, HasTime: false,
	})
	v := New(reg, DefaultLimits())

	assert.NoError(t, v.ValidateSubmission(domain.NewSubmission("endless", "A", 1).WithTime(1000)))
	assert.Error(t, v.ValidateSubmission(domain.NewSubmission("endless", "A", 1).WithTime(-1)))
}

func TestScoreAndTimeValue(t *testing.T) {
	sub := domain.NewSubmission("square-rush", "A", 42).WithTime(1500)
	assert.Equal(t, int64(42), ScoreValue(sub))
	require.NotNil(t, TimeValue(sub))
	assert.Equal(t, int64(1500), *TimeValue(sub))

	sub.TimeMS = nil
	assert.Nil(t, TimeValue(sub))
}
