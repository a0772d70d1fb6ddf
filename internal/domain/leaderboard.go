package domain

import (
	"encoding/json"
	"strconv"
	"time"
)

// ScoreType describes what a game's score counts
type ScoreType string

const (
	ScoreTypePoints ScoreType = "points"
	ScoreTypeWins   ScoreType = "wins"
)

// Level is the difficulty a score was achieved at
type Level string

const (
	LevelNovice       Level = "NOVICE"
	LevelIntermediate Level = "INTERMEDIATE"
	LevelAdvanced     Level = "ADVANCED"
	LevelExpert       Level = "EXPERT"
	LevelMaster       Level = "MASTER"
)

// Levels lists the accepted difficulty levels in ascending order.
var Levels = []Level{LevelNovice, LevelIntermediate, LevelAdvanced, LevelExpert, LevelMaster}

// IsValidLevel reports whether s names one of the five difficulty levels.
func IsValidLevel(s string) bool {
	for _, l := range Levels {
		if string(l) == s {
			return true
		}
	}
	return false
}

// GameLimits holds the anti-cheat bounds and feature flags of a registered game
type GameLimits struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	MaxScore  int64     `json:"max_score" yaml:"max_score"`
	MaxTimeMS int64     `json:"max_time_ms" yaml:"max_time_ms"`
	ScoreType ScoreType `json:"score_type" yaml:"score_type"`
	HasLevels bool      `json:"has_levels" yaml:"has_levels"`
	HasTime   bool      `json:"has_time" yaml:"has_time"`
}

// ScoreSubmission is the decoded body of a score submission. Optional and
// numeric fields are pointers so presence can be told apart from zero values.
type ScoreSubmission struct {
	Game        string         `json:"game"`
	PlayerName  *string        `json:"player_name"`
	Score       *json.Number   `json:"score"`
	Level       *string        `json:"level,omitempty"`
	TimeMS      *json.Number   `json:"time_ms,omitempty"`
	CountryCode *string        `json:"country_code,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// NewSubmission builds a submission with the required fields set
func NewSubmission(game, playerName string, score int64) ScoreSubmission {
	n := json.Number(strconv.FormatInt(score, 10))
	return ScoreSubmission{
		Game:       game,
		PlayerName: &playerName,
		Score:      &n,
	}
}

// WithTime sets the elapsed time of the run in milliseconds
func (s ScoreSubmission) WithTime(ms int64) ScoreSubmission {
	n := json.Number(strconv.FormatInt(ms, 10))
	s.TimeMS = &n
	return s
}

// WithLevel sets the difficulty level
func (s ScoreSubmission) WithLevel(level string) ScoreSubmission {
	s.Level = &level
	return s
}

// WithCountry sets the country code
func (s ScoreSubmission) WithCountry(code string) ScoreSubmission {
	s.CountryCode = &code
	return s
}

// ScoreRecord is a persisted, append-only score
type ScoreRecord struct {
	ID          string
	Seq         int64
	Game        string
	PlayerName  string
	Score       int64
	Level       *string
	TimeMS      *int64
	CountryCode *string
	CountryName *string
	Metadata    map[string]any
	CreatedAt   time.Time
}

// Country is the wire form of a record's country
type Country struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// RankedEntry is a ScoreRecord positioned on a leaderboard
type RankedEntry struct {
	Rank       int64          `json:"rank"`
	ID         string         `json:"id"`
	PlayerName string         `json:"player_name"`
	Score      int64          `json:"score"`
	Level      *string        `json:"level"`
	TimeMS     *int64         `json:"time_ms"`
	Country    *Country       `json:"country"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Ranked converts a record into a leaderboard entry at the given rank
func (r ScoreRecord) Ranked(rank int64) RankedEntry {
	entry := RankedEntry{
		Rank:       rank,
		ID:         r.ID,
		PlayerName: r.PlayerName,
		Score:      r.Score,
		Level:      r.Level,
		TimeMS:     r.TimeMS,
		Metadata:   r.Metadata,
		CreatedAt:  r.CreatedAt,
	}
	if entry.Metadata == nil {
		entry.Metadata = map[string]any{}
	}
	if r.CountryCode != nil {
		entry.Country = &Country{Code: *r.CountryCode}
		if r.CountryName != nil {
			entry.Country.Name = *r.CountryName
		}
	}
	return entry
}

// ScoreFilter narrows a game's records
type ScoreFilter struct {
	Country string
	Level   string
}

// LeaderboardQuery holds sanitized leaderboard parameters
type LeaderboardQuery struct {
	Game    string
	Limit   int
	Offset  int
	Country string
	Level   string
}

// Filter returns the optional filters of the query
func (q LeaderboardQuery) Filter() ScoreFilter {
	return ScoreFilter{Country: q.Country, Level: q.Level}
}

// SearchQuery holds sanitized player search parameters
type SearchQuery struct {
	Game       string
	PlayerName string
	Limit      int
}

// Pagination describes where a page sits in the full result set
type Pagination struct {
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	Total   int64 `json:"total"`
	HasMore bool  `json:"hasMore"`
}

// Filters echoes the filters applied to a leaderboard page
type Filters struct {
	Country *string `json:"country"`
	Level   *string `json:"level"`
}

// LeaderboardPage is one page of a ranked leaderboard
type LeaderboardPage struct {
	Game       string        `json:"game"`
	Scores     []RankedEntry `json:"scores"`
	Pagination Pagination    `json:"pagination"`
	Filters    Filters       `json:"filters"`
}

// SearchResult lists a player's records with their global ranks
type SearchResult struct {
	Game       string        `json:"game"`
	PlayerName string        `json:"player_name"`
	Scores     []RankedEntry `json:"scores"`
}

// SubmitResult is the outcome of an accepted submission
type SubmitResult struct {
	Rank         int64       `json:"rank"`
	TotalPlayers int64       `json:"totalPlayers"`
	Entry        RankedEntry `json:"-"`
}

// GameStats contains statistics about a game's leaderboard
type GameStats struct {
	Game          string `json:"game"`
	TotalScores   int64  `json:"total_scores"`
	UniquePlayers int64  `json:"unique_players"`
	TopScore      int64  `json:"top_score"`
}
