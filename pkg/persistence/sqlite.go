package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/petrijr/stately/pkg/state"
)

// SQLitePersister stores checkpoints in a SQLite database.
//
// It expects an *sql.DB opened with a SQLite driver; the caller imports the
// driver, e.g.:
//
//	import _ "modernc.org/sqlite"
//
// State is serialized through the serde registry and stored as JSON.
type SQLitePersister struct {
	db          *sql.DB
	table       string
	initialized bool
}

var (
	_ Persister   = (*SQLitePersister)(nil)
	_ Initializer = (*SQLitePersister)(nil)
)

// NewSQLitePersister creates a SQLitePersister writing to the given table
// ("state_checkpoints" when empty). Call Initialize, or let the application
// builder do it, before first use.
func NewSQLitePersister(db *sql.DB, table string) *SQLitePersister {
	if table == "" {
		table = "state_checkpoints"
	}
	return &SQLitePersister{db: db, table: table}
}

// Initialize creates the checkpoint table if it does not exist.
func (p *SQLitePersister) Initialize(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			partition_key TEXT NOT NULL,
			app_id TEXT NOT NULL,
			sequence_id INTEGER NOT NULL,
			position TEXT NOT NULL,
			status TEXT NOT NULL,
			state TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (partition_key, app_id, sequence_id)
		);`, p.table),
	)
	if err != nil {
		return fmt.Errorf("sqlite persister: creating schema: %w", err)
	}
	p.initialized = true
	return nil
}

func (p *SQLitePersister) Load(ctx context.Context, partitionKey, appID string, sequenceID *int64) (*PersistedStateData, error) {
	if !p.initialized {
		return nil, ErrNotInitialized
	}

	query := fmt.Sprintf(`
		SELECT partition_key, app_id, sequence_id, position, status, state, created_at
		FROM %s
		WHERE partition_key = ? AND app_id = ?`, p.table)
	args := []any{partitionKey, appID}
	if sequenceID != nil {
		query += ` AND sequence_id = ?`
		args = append(args, *sequenceID)
	}
	query += ` ORDER BY sequence_id DESC LIMIT 1`

	row := p.db.QueryRowContext(ctx, query, args...)
	data, err := scanCheckpoint(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return data, err
}

func (p *SQLitePersister) Save(ctx context.Context, partitionKey, appID string, sequenceID int64, position string, s state.State, status Status) error {
	if !p.initialized {
		return ErrNotInitialized
	}

	stateJSON, err := MarshalState(s)
	if err != nil {
		return err
	}

	_, err = p.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (partition_key, app_id, sequence_id, position, status, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (partition_key, app_id, sequence_id)
		DO UPDATE SET position = excluded.position, status = excluded.status,
		              state = excluded.state, created_at = excluded.created_at`, p.table),
		partitionKey, appID, sequenceID, position, string(status), stateJSON,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlite persister: saving checkpoint: %w", err)
	}
	return nil
}

func (p *SQLitePersister) ListAppIDs(ctx context.Context, partitionKey string) ([]string, error) {
	if !p.initialized {
		return nil, ErrNotInitialized
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT DISTINCT app_id FROM %s WHERE partition_key = ? ORDER BY app_id`, p.table),
		partitionKey,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite persister: listing app ids: %w", err)
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

// MarshalState serializes state through the serde registry into JSON. It is
// shared by the SQL-backed and key/value-backed persisters.
func MarshalState(s state.State) (string, error) {
	serialized, err := s.Serialize()
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(serialized)
	if err != nil {
		return "", fmt.Errorf("marshaling state: %w", err)
	}
	return string(raw), nil
}

// unmarshalState is the inverse of MarshalState.
func unmarshalState(raw string) (state.State, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return state.State{}, fmt.Errorf("unmarshaling state: %w", err)
	}
	return state.Deserialize(data)
}

// scanCheckpoint reads one checkpoint row in the canonical column order.
func scanCheckpoint(scan func(dest ...any) error) (*PersistedStateData, error) {
	var (
		data      PersistedStateData
		status    string
		stateJSON string
		createdAt string
	)
	if err := scan(&data.PartitionKey, &data.AppID, &data.SequenceID,
		&data.Position, &status, &stateJSON, &createdAt); err != nil {
		return nil, err
	}
	data.Status = Status(status)

	st, err := unmarshalState(stateJSON)
	if err != nil {
		return nil, err
	}
	data.State = st

	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		data.CreatedAt = ts
	}
	return &data, nil
}
