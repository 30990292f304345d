package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresSink appends one row per dispatch decision to Postgres,
// grounded on the teacher's pgvector store's pool-plus-migrate shape,
// repurposed here for audit rows instead of vectors.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink connects to dsn and ensures the audit table exists.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: ping: %w", err)
	}
	s := &PostgresSink{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	log.Info().Msg("audit: postgres sink initialized")
	return s, nil
}

func (s *PostgresSink) migrate(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS pump_dispatch_audit (
			id         BIGSERIAL PRIMARY KEY,
			thread_id  TEXT NOT NULL,
			listener   TEXT NOT NULL,
			outcome    TEXT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_pump_dispatch_audit_thread ON pump_dispatch_audit (thread_id);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// Record inserts r. Failures are logged, never propagated — an audit
// sink must never perturb dispatch.
func (s *PostgresSink) Record(ctx context.Context, r Record) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pump_dispatch_audit (thread_id, listener, outcome, recorded_at) VALUES ($1, $2, $3, $4)`,
		r.ThreadID, r.Listener, r.Outcome, r.Timestamp)
	if err != nil {
		log.Warn().Err(err).Str("thread", r.ThreadID).Msg("audit: insert failed")
	}
}

// Close releases the underlying pool.
func (s *PostgresSink) Close() { s.pool.Close() }

var _ Sink = (*PostgresSink)(nil)
