// Package audit persists decision records to Postgres. The trail is
// optional: with no database configured every method is a no-op, and a
// write failure is logged rather than propagated, so auditing never
// blocks a decision.
package audit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS decision_audit (
	id         UUID PRIMARY KEY,
	kind       TEXT NOT NULL,
	subject    TEXT NOT NULL DEFAULT '',
	outcome    TEXT NOT NULL,
	score      DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Trail records adjudications and risk decisions. A nil pool means the
// trail is disabled.
type Trail struct {
	pool *pgxpool.Pool
}

// Open connects the audit trail. An empty DSN disables it; a connection
// or migration failure degrades to the disabled trail instead of
// failing startup.
func Open(ctx context.Context, dsn string) *Trail {
	if dsn == "" {
		log.Println("[STARTUP] ○ Audit trail disabled (no database configured)")
		return &Trail{}
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		log.Printf("[WARN] audit: invalid database config: %v (trail disabled)", err)
		return &Trail{}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		log.Printf("[WARN] audit: database unreachable: %v (trail disabled)", err)
		pool.Close()
		return &Trail{}
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		log.Printf("[WARN] audit: schema migration failed: %v (trail disabled)", err)
		pool.Close()
		return &Trail{}
	}

	log.Println("[STARTUP] ✓ Audit trail connected")
	return &Trail{pool: pool}
}

// Enabled reports whether records are being persisted.
func (t *Trail) Enabled() bool {
	return t != nil && t.pool != nil
}

// RecordAdjudication stores a finished claim verdict.
func (t *Trail) RecordAdjudication(ctx context.Context, claimant, verdict string, fraudScore float64) error {
	return t.insert(ctx, "adjudication", claimant, verdict, fraudScore)
}

// RecordRiskDecision stores an underwriting decision.
func (t *Trail) RecordRiskDecision(ctx context.Context, subject, decision string, riskScore float64) error {
	return t.insert(ctx, "risk_decision", subject, decision, riskScore)
}

func (t *Trail) insert(ctx context.Context, kind, subject, outcome string, score float64) error {
	if !t.Enabled() {
		return nil
	}
	_, err := t.pool.Exec(ctx,
		`INSERT INTO decision_audit (id, kind, subject, outcome, score) VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), kind, subject, outcome, score)
	if err != nil {
		return fmt.Errorf("audit: insert %s record: %w", kind, err)
	}
	return nil
}

// Close releases the connection pool.
func (t *Trail) Close() {
	if t.Enabled() {
		t.pool.Close()
	}
}
