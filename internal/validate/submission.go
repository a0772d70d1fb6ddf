package validate

import (
	"encoding/json"
	"strconv"

	"github.com/chessarcade/leaderboard/internal/domain"
)

// ValidateSubmission decides whether sub may be persisted. It returns nil or a
// *domain.ValidationError naming the first rule that failed.
func (v *Validator) ValidateSubmission(sub domain.ScoreSubmission) error {
	if sub.Game == "" || sub.PlayerName == nil || sub.Score == nil {
		return domain.Invalid("Missing required fields: game, player_name, score")
	}

	game, ok := v.registry.Game(sub.Game)
	if !ok {
		return v.invalidGame()
	}

	name := *sub.PlayerName
	if !nameLengthOK(name) {
		return domain.Invalid("Player name must be between %d and %d characters", minNameLength, maxNameLength)
	}
	if !playerNamePattern.MatchString(name) {
		return domain.Invalid("Player name contains invalid characters")
	}

	score, ok := nonNegativeInt(*sub.Score)
	if !ok {
		return domain.Invalid("Score must be a non-negative integer")
	}
	if score > game.MaxScore {
		return domain.Invalid("Score exceeds maximum allowed for %s (%d)", game.Name, game.MaxScore)
	}

	if sub.TimeMS != nil {
		ms, ok := nonNegativeInt(*sub.TimeMS)
		if !ok {
			return domain.Invalid("Time must be a non-negative integer (milliseconds)")
		}
		if game.HasTime && ms > game.MaxTimeMS {
			return domain.Invalid("Time exceeds maximum allowed for %s (%d ms)", game.Name, game.MaxTimeMS)
		}
	}

	// A level sent for a game without levels is stored unchecked.
	if sub.Level != nil && game.HasLevels && !domain.IsValidLevel(*sub.Level) {
		return invalidLevel()
	}

	if sub.CountryCode != nil && !countryCodePattern.MatchString(*sub.CountryCode) {
		return domain.Invalid("Country code must be 2 uppercase letters")
	}

	return nil
}

// ScoreValue returns the integer score of a validated submission
func ScoreValue(sub domain.ScoreSubmission) int64 {
	n, _ := nonNegativeInt(*sub.Score)
	return n
}

// TimeValue returns the integer time of a validated submission, if present
func TimeValue(sub domain.ScoreSubmission) *int64 {
	if sub.TimeMS == nil {
		return nil
	}
	n, _ := nonNegativeInt(*sub.TimeMS)
	return &n
}

func nonNegativeInt(n json.Number) (int64, bool) {
	v, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
