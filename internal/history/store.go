// Package history persists finished tasks and retrieves similar prior
// tasks for replanning context.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/example/steward/internal/oracle"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	goal       TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at);
`

// Record is one stored task.
type Record struct {
	ID        int64
	Goal      string
	Outcome   string
	Detail    string
	CreatedAt time.Time
}

// Store is a sqlite-backed task history.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open creates or opens the history database at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("history: create dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save records one finished task.
func (s *Store) Save(ctx context.Context, goal, outcome, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (goal, outcome, detail) VALUES (?, ?, ?)`,
		goal, outcome, detail)
	if err != nil {
		return fmt.Errorf("history: save: %w", err)
	}
	return nil
}

// Recent returns the newest records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, goal, outcome, detail, created_at FROM tasks ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// candidatePool bounds how many recent tasks similarity ranking scans.
const candidatePool = 200

// FindSimilar ranks recent tasks by goal-text token overlap and
// returns the best matches, best first. Tasks with no overlap are
// omitted.
func (s *Store) FindSimilar(ctx context.Context, goal string, limit int) ([]oracle.SimilarTask, error) {
	if limit <= 0 {
		limit = 3
	}
	records, err := s.Recent(ctx, candidatePool)
	if err != nil {
		return nil, err
	}

	queryTokens := tokenize(goal)
	type scored struct {
		record Record
		score  float64
	}
	var candidates []scored
	for _, record := range records {
		if score := overlap(queryTokens, tokenize(record.Goal)); score > 0 {
			candidates = append(candidates, scored{record, score})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]oracle.SimilarTask, len(candidates))
	for i, c := range candidates {
		out[i] = oracle.SimilarTask{
			Goal:    c.record.Goal,
			Outcome: c.record.Outcome,
			Detail:  c.record.Detail,
		}
	}
	return out, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Goal, &r.Outcome, &r.Detail, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Words too common to indicate similarity between goals.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "the": true, "to": true,
	"in": true, "of": true, "for": true, "with": true, "on": true,
	"it": true, "is": true, "all": true, "my": true, "this": true,
}

func tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, field := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if len(field) > 1 && !stopwords[field] {
			tokens[field] = true
		}
	}
	return tokens
}

// overlap is the Jaccard index of two token sets.
func overlap(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for token := range a {
		if b[token] {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	return float64(shared) / float64(union)
}
