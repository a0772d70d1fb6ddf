// Package scorequery composes the SQL shared by the score stores. Every read
// binds the game and AND-binds the optional country and level filters through
// one code path, so filtered and unfiltered queries cannot drift apart.
package scorequery

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/chessarcade/leaderboard/internal/domain"
)

// Columns selected for every record read, in scan order
const Columns = "id, seq, game, player_name, score, level, time_ms, country_code, country_name, metadata, created_at"

// OrderBy is the ranking order: score descending, earlier submissions first
const OrderBy = "score DESC, created_at ASC, seq ASC"

// Dialect adapts statements to a SQL engine
type Dialect struct {
	// Placeholder renders the n-th (1-based) bind parameter
	Placeholder func(n int) string
	// Time converts a timestamp into the stored created_at representation
	Time func(t time.Time) any
}

// Postgres binds $n parameters and native timestamps
var Postgres = Dialect{
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	Time:        func(t time.Time) any { return t.UTC() },
}

// SQLite binds ? parameters and unix-millisecond timestamps
var SQLite = Dialect{
	Placeholder: func(int) string { return "?" },
	Time:        func(t time.Time) any { return t.UTC().UnixMilli() },
}

// Statement is a SQL string with its arguments
type Statement struct {
	SQL  string
	Args []any
}

type builder struct {
	d    Dialect
	args []any
}

func (b *builder) bind(v any) string {
	b.args = append(b.args, v)
	return b.d.Placeholder(len(b.args))
}

// where renders the game and filter predicate
func (b *builder) where(game string, f domain.ScoreFilter) string {
	conds := []string{"game = " + b.bind(game)}
	if f.Country != "" {
		conds = append(conds, "country_code = "+b.bind(f.Country))
	}
	if f.Level != "" {
		conds = append(conds, "level = "+b.bind(f.Level))
	}
	return strings.Join(conds, " AND ")
}

// Ranked selects one page of a game's records in ranking order
func (d Dialect) Ranked(game string, f domain.ScoreFilter, limit, offset int) Statement {
	b := &builder{d: d}
	where := b.where(game, f)
	sql := "SELECT " + Columns + " FROM scores WHERE " + where +
		" ORDER BY " + OrderBy +
		" LIMIT " + b.bind(limit) + " OFFSET " + b.bind(offset)
	return Statement{SQL: sql, Args: b.args}
}

// Count counts a game's records matching the filter
func (d Dialect) Count(game string, f domain.ScoreFilter) Statement {
	b := &builder{d: d}
	sql := "SELECT COUNT(*) FROM scores WHERE " + b.where(game, f)
	return Statement{SQL: sql, Args: b.args}
}

// Ahead counts the records of rec's game that rank strictly before rec
func (d Dialect) Ahead(rec domain.ScoreRecord) Statement {
	b := &builder{d: d}
	where := b.where(rec.Game, domain.ScoreFilter{})
	createdAt := d.Time(rec.CreatedAt)
	sql := "SELECT COUNT(*) FROM scores WHERE " + where +
		" AND (score > " + b.bind(rec.Score) +
		" OR (score = " + b.bind(rec.Score) +
		" AND (created_at < " + b.bind(createdAt) +
		" OR (created_at = " + b.bind(createdAt) +
		" AND seq < " + b.bind(rec.Seq) + "))))"
	return Statement{SQL: sql, Args: b.args}
}

// SearchByName selects a player's records with their rank across the whole game
func (d Dialect) SearchByName(q domain.SearchQuery) Statement {
	b := &builder{d: d}
	where := b.where(q.Game, domain.ScoreFilter{})
	sql := "SELECT " + Columns + ", row_rank FROM (" +
		"SELECT " + Columns + ", ROW_NUMBER() OVER (ORDER BY " + OrderBy + ") AS row_rank" +
		" FROM scores WHERE " + where +
		") ranked WHERE LOWER(player_name) = LOWER(" + b.bind(q.PlayerName) + ")" +
		" ORDER BY row_rank LIMIT " + b.bind(q.Limit)
	return Statement{SQL: sql, Args: b.args}
}

// Stats aggregates totals for a game
func (d Dialect) Stats(game string) Statement {
	b := &builder{d: d}
	sql := "SELECT COUNT(*), COUNT(DISTINCT LOWER(player_name)), COALESCE(MAX(score), 0) FROM scores WHERE " +
		b.where(game, domain.ScoreFilter{})
	return Statement{SQL: sql, Args: b.args}
}

// EncodeMetadata serializes metadata for storage; nil stays NULL
func EncodeMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// DecodeMetadata parses a stored metadata blob. Empty or malformed blobs
// yield an empty object so a single bad row cannot fail a read.
func DecodeMetadata(raw []byte) map[string]any {
	out := map[string]any{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}
