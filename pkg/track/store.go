package track

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // CGo-free sqlite driver

	"github.com/dirgogoo/mdap/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	ts        TEXT NOT NULL,
	phase     TEXT NOT NULL,
	step_id   TEXT NOT NULL,
	rationale TEXT NOT NULL,
	margin    INTEGER NOT NULL,
	samples   INTEGER NOT NULL,
	rejections INTEGER NOT NULL,
	tokens    INTEGER NOT NULL,
	cost      REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS transitions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	ts         TEXT NOT NULL,
	event      TEXT NOT NULL,
	from_state TEXT NOT NULL,
	to_state   TEXT NOT NULL,
	accepted   INTEGER NOT NULL
);
`

// SQLStore is the durable decision-log sink backed by SQLite. Queries are
// served from the in-memory Tracker during a run; this store keeps the log
// after the run ends and reads it back through Decisions. The `mdap
// explain` and `mdap history` commands query the live control API and do
// not read this store.
type SQLStore struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the SQLite file and its schema.
func OpenStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening tracker db %s: %w", path, err)
	}
	// The log is written from one goroutine at a time but read by CLI
	// clients; a single connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating tracker schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLStore) Close() error { return s.db.Close() }

// InsertDecision appends one decision row.
func (s *SQLStore) InsertDecision(d models.Decision) error {
	_, err := s.db.Exec(
		`INSERT INTO decisions (ts, phase, step_id, rationale, margin, samples, rejections, tokens, cost)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Timestamp.Format(time.RFC3339Nano), d.Phase, d.StepID, d.Rationale,
		d.WinningMargin, d.SamplesUsed, d.Rejections, d.Tokens, d.CostEstimate)
	return err
}

// InsertTransition appends one transition row.
func (s *SQLStore) InsertTransition(tr models.Transition) error {
	accepted := 0
	if tr.Accepted {
		accepted = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO transitions (ts, event, from_state, to_state, accepted)
		 VALUES (?, ?, ?, ?, ?)`,
		tr.Timestamp.Format(time.RFC3339Nano), tr.Event, tr.From, tr.To, accepted)
	return err
}

// Decisions loads the persisted decision log, oldest first.
func (s *SQLStore) Decisions(limit int) ([]models.Decision, error) {
	q := `SELECT ts, phase, step_id, rationale, margin, samples, rejections, tokens, cost
	      FROM decisions ORDER BY id`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.Query(q+` DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.Query(q)
	}
	if err != nil {
		return nil, fmt.Errorf("querying decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.Decision
	for rows.Next() {
		var d models.Decision
		var ts string
		if err := rows.Scan(&ts, &d.Phase, &d.StepID, &d.Rationale,
			&d.WinningMargin, &d.SamplesUsed, &d.Rejections, &d.Tokens, &d.CostEstimate); err != nil {
			return nil, fmt.Errorf("scanning decision: %w", err)
		}
		d.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if limit > 0 {
		// DESC LIMIT returned newest first; restore causal order.
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}
