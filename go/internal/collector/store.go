package collector

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dlobba/lwb-cc2538/go/internal/report"
	"github.com/dlobba/lwb-cc2538/go/internal/round"
)

const schema = `
CREATE TABLE IF NOT EXISTS glossy_rounds (
    event_id           UUID PRIMARY KEY,
    run_id             UUID NOT NULL,
    node_id            INTEGER NOT NULL,
    role               TEXT NOT NULL,
    seq_no             BIGINT NOT NULL,
    synced             BOOLEAN NOT NULL,
    received           BOOLEAN NOT NULL,
    corrupted          BOOLEAN NOT NULL,
    n_rx               SMALLINT NOT NULL,
    n_tx               SMALLINT NOT NULL,
    relay_cnt_first_rx SMALLINT NOT NULL,
    ref_time           BIGINT NOT NULL,
    epoch_diff         BIGINT,
    bootstrap_attempts INTEGER NOT NULL,
    recorded_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS glossy_rounds_run_node ON glossy_rounds (run_id, node_id);
`

const insertRound = `
INSERT INTO glossy_rounds (
    event_id, run_id, node_id, role, seq_no, synced, received, corrupted,
    n_rx, n_tx, relay_cnt_first_rx, ref_time, epoch_diff, bootstrap_attempts, recorded_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (event_id) DO NOTHING`

const summaryQuery = `
SELECT node_id,
       COUNT(*),
       COUNT(*) FILTER (WHERE received AND NOT corrupted),
       COUNT(*) FILTER (WHERE NOT received),
       COUNT(*) FILTER (WHERE corrupted),
       COUNT(*) FILTER (WHERE synced)
FROM glossy_rounds
WHERE run_id = $1
GROUP BY node_id
ORDER BY node_id`

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore persists round reports. Redelivered envelopes are ignored.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the table if needed.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create glossy_rounds: %w", err)
	}
	return nil
}

func (s *PostgresStore) Store(ctx context.Context, env report.Envelope, r round.Report) error {
	eventID, err := uuid.Parse(env.EventID)
	if err != nil {
		return fmt.Errorf("parse event id: %w", err)
	}
	runID, err := uuid.Parse(env.RunID)
	if err != nil {
		return fmt.Errorf("parse run id: %w", err)
	}

	var epochDiff *int64
	if r.EpochDiff != nil {
		v := int64(*r.EpochDiff)
		epochDiff = &v
	}

	_, err = s.db.Exec(ctx, insertRound,
		eventID, runID, int32(r.NodeID), string(r.Role), int64(r.SeqNo),
		r.Synced, r.Received, r.Corrupted,
		int16(r.RxCount), int16(r.TxCount), int16(r.RelayCntFirstRx),
		int64(r.RefTime), epochDiff, int32(r.BootstrapAttempts), env.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert round: %w", err)
	}
	return nil
}

// NodeTotals aggregates one node's rounds in a run.
type NodeTotals struct {
	NodeID    int   `json:"nodeId"`
	Rounds    int64 `json:"rounds"`
	Received  int64 `json:"received"`
	Missed    int64 `json:"missed"`
	Corrupted int64 `json:"corrupted"`
	Synced    int64 `json:"synced"`
}

// Summary aggregates a run per node.
func (s *PostgresStore) Summary(ctx context.Context, runID uuid.UUID) ([]NodeTotals, error) {
	rows, err := s.db.Query(ctx, summaryQuery, runID)
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	var totals []NodeTotals
	for rows.Next() {
		var t NodeTotals
		if err := rows.Scan(&t.NodeID, &t.Rounds, &t.Received, &t.Missed, &t.Corrupted, &t.Synced); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary: %w", err)
	}
	return totals, nil
}
