// Package postgres provides a checkpoint persister backed by PostgreSQL,
// using pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/petrijr/stately/pkg/persistence"
	"github.com/petrijr/stately/pkg/state"
)

// Persister stores checkpoints in a PostgreSQL table. State is serialized
// through the serde registry and stored as JSONB.
type Persister struct {
	pool        *pgxpool.Pool
	table       string
	initialized bool
}

var (
	_ persistence.Persister   = (*Persister)(nil)
	_ persistence.Initializer = (*Persister)(nil)
)

// New creates a Persister writing to the given table ("state_checkpoints"
// when empty). Call Initialize, or let the application builder do it,
// before first use.
func New(pool *pgxpool.Pool, table string) *Persister {
	if table == "" {
		table = "state_checkpoints"
	}
	return &Persister{pool: pool, table: table}
}

// NewPool is a convenience wrapper around pgxpool for callers that only
// have a DSN.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres persister: parsing dsn: %w", err)
	}
	return pgxpool.NewWithConfig(ctx, cfg)
}

// Initialize creates the checkpoint table if it does not exist.
func (p *Persister) Initialize(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			partition_key TEXT NOT NULL,
			app_id TEXT NOT NULL,
			sequence_id BIGINT NOT NULL,
			position TEXT NOT NULL,
			status TEXT NOT NULL,
			state JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (partition_key, app_id, sequence_id)
		);`, p.table),
	)
	if err != nil {
		return fmt.Errorf("postgres persister: creating schema: %w", err)
	}
	p.initialized = true
	return nil
}

func (p *Persister) Load(ctx context.Context, partitionKey, appID string, sequenceID *int64) (*persistence.PersistedStateData, error) {
	if !p.initialized {
		return nil, persistence.ErrNotInitialized
	}

	query := fmt.Sprintf(`
		SELECT sequence_id, position, status, state, created_at
		FROM %s
		WHERE partition_key = $1 AND app_id = $2`, p.table)
	args := []any{partitionKey, appID}
	if sequenceID != nil {
		query += ` AND sequence_id = $3`
		args = append(args, *sequenceID)
	}
	query += ` ORDER BY sequence_id DESC LIMIT 1`

	var (
		data      persistence.PersistedStateData
		status    string
		stateData map[string]any
		createdAt time.Time
	)
	err := p.pool.QueryRow(ctx, query, args...).Scan(
		&data.SequenceID, &data.Position, &status, &stateData, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres persister: loading checkpoint: %w", err)
	}

	st, err := state.Deserialize(stateData)
	if err != nil {
		return nil, err
	}

	data.PartitionKey = partitionKey
	data.AppID = appID
	data.State = st
	data.Status = persistence.Status(status)
	data.CreatedAt = createdAt
	return &data, nil
}

func (p *Persister) Save(ctx context.Context, partitionKey, appID string, sequenceID int64, position string, s state.State, status persistence.Status) error {
	if !p.initialized {
		return persistence.ErrNotInitialized
	}

	serialized, err := s.Serialize()
	if err != nil {
		return err
	}

	_, err = p.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (partition_key, app_id, sequence_id, position, status, state)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (partition_key, app_id, sequence_id)
		DO UPDATE SET position = EXCLUDED.position, status = EXCLUDED.status,
		              state = EXCLUDED.state, created_at = now()`, p.table),
		partitionKey, appID, sequenceID, position, string(status), serialized,
	)
	if err != nil {
		return fmt.Errorf("postgres persister: saving checkpoint: %w", err)
	}
	return nil
}

func (p *Persister) ListAppIDs(ctx context.Context, partitionKey string) ([]string, error) {
	if !p.initialized {
		return nil, persistence.ErrNotInitialized
	}

	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
		SELECT DISTINCT app_id FROM %s WHERE partition_key = $1 ORDER BY app_id`, p.table),
		partitionKey,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres persister: listing app ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
