package validate

import (
	"net/url"
	"strconv"

	"github.com/chessarcade/leaderboard/internal/domain"
)

// ValidateLeaderboardParams checks and normalizes leaderboard query parameters
func (v *Validator) ValidateLeaderboardParams(params url.Values) (domain.LeaderboardQuery, error) {
	q := domain.LeaderboardQuery{
		Limit: v.limits.DefaultLimit,
	}

	game, err := v.gameParam(params)
	if err != nil {
		return domain.LeaderboardQuery{}, err
	}
	q.Game = game

	if raw := params.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > v.limits.MaxLimit {
			return domain.LeaderboardQuery{}, domain.Invalid("Limit must be an integer between 1 and %d", v.limits.MaxLimit)
		}
		q.Limit = limit
	}

	if raw := params.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return domain.LeaderboardQuery{}, domain.Invalid("Offset must be a non-negative integer")
		}
		q.Offset = offset
	}

	if country := params.Get("country"); country != "" {
		if !countryCodePattern.MatchString(country) {
			return domain.LeaderboardQuery{}, domain.Invalid("Country must be a 2-letter uppercase code")
		}
		q.Country = country
	}

	if level := params.Get("level"); level != "" {
		if !domain.IsValidLevel(level) {
			return domain.LeaderboardQuery{}, invalidLevel()
		}
		q.Level = level
	}

	return q, nil
}

// ValidateSearchParams checks and normalizes player search parameters
func (v *Validator) ValidateSearchParams(params url.Values) (domain.SearchQuery, error) {
	q := domain.SearchQuery{
		Limit: v.limits.SearchDefaultLimit,
	}

	game, err := v.gameParam(params)
	if err != nil {
		return domain.SearchQuery{}, err
	}
	q.Game = game

	name := params.Get("player_name")
	if name == "" {
		return domain.SearchQuery{}, domain.Invalid("player_name parameter is required")
	}
	if !nameLengthOK(name) {
		return domain.SearchQuery{}, domain.Invalid("Player name must be between %d and %d characters", minNameLength, maxNameLength)
	}
	q.PlayerName = name

	if raw := params.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > v.limits.SearchMaxLimit {
			return domain.SearchQuery{}, domain.Invalid("Limit must be an integer between 1 and %d", v.limits.SearchMaxLimit)
		}
		q.Limit = limit
	}

	return q, nil
}

// ValidateGameParam checks a bare game parameter, as used by stats reads
func (v *Validator) ValidateGameParam(params url.Values) (string, error) {
	return v.gameParam(params)
}

func (v *Validator) gameParam(params url.Values) (string, error) {
	game := params.Get("game")
	if game == "" {
		return "", domain.Invalid("game parameter is required")
	}
	if !v.registry.IsValidGame(game) {
		return "", v.invalidGame()
	}
	return game, nil
}
