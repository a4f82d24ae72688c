package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrKeyRequired is returned by Record when no record key is given.
var ErrKeyRequired = errors.New("journal: record key is required")

// Attempt is one finished publish of a record, live or replayed.
type Attempt struct {
	RunID     string    `json:"run_id"`
	RecordKey string    `json:"record_key"`
	Topic     string    `json:"topic"`
	Source    string    `json:"source"`
	Outcome   string    `json:"outcome"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}

// Journal stores delivery attempts in the delivery_journal table.
//
// The journal is an audit trail only. The outbox directory stays the
// source of truth for what still needs delivering.
type Journal struct {
	db *sql.DB
}

// New creates a Journal on an already migrated database.
func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Record appends one attempt row.
func (j *Journal) Record(ctx context.Context, a Attempt) error {
	if a.RecordKey == "" {
		return ErrKeyRequired
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO delivery_journal (run_id, record_key, topic, source, outcome, attempts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.RunID,
		a.RecordKey,
		a.Topic,
		a.Source,
		a.Outcome,
		a.Attempts,
		a.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting delivery attempt: %w", err)
	}
	return nil
}

// Prune deletes rows older than the given duration and returns how many
// were removed.
func (j *Journal) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().Add(-olderThan).UnixMilli()
	result, err := j.db.ExecContext(ctx, "DELETE FROM delivery_journal WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting delivery journal rows: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
