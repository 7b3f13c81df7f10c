// Package audit persists an immutable record of every terminated conversation
// flow: which flow ran, how it ended, and the facts the patient confirmed
// along the way.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wavelinehealth/frontdesk/internal/engine"
)

// Recorder writes terminal-flow audit rows to Postgres. A nil Recorder is a
// no-op so deployments without a database still run.
type Recorder struct {
	db *sql.DB
}

func NewRecorder(db *sql.DB) *Recorder {
	if db == nil {
		panic("audit: database handle cannot be nil")
	}
	return &Recorder{db: db}
}

// Record inserts one audit row for a terminated session.
func (r *Recorder) Record(ctx context.Context, st *engine.State) error {
	if r == nil {
		return nil
	}

	facts, err := json.Marshal(st.Confirmed)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal confirmed facts: %w", err)
	}

	query := `
		INSERT INTO session_audit (
			id, session_id, flow, outcome, confirmed_facts, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.db.ExecContext(ctx, query,
		uuid.NewString(),
		st.SessionID,
		string(st.Flow),
		string(st.Outcome),
		facts,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("audit: failed to record session outcome: %w", err)
	}
	return nil
}
