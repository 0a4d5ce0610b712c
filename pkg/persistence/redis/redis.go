// Package redis provides a checkpoint persister backed by Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/stately/pkg/persistence"
	"github.com/petrijr/stately/pkg/state"
)

// Persister stores checkpoints in Redis. Key structure:
//
//	<prefix>chk:<partition>:<app>:<sequence>  => JSON checkpoint payload
//	<prefix>idx:<partition>:<app>             => ZSET of sequence ids (score = sequence)
//	<prefix>apps:<partition>                  => SET of app ids
//
// The indexes are updated on every Save and drive latest-checkpoint lookup
// and app id listing.
type Persister struct {
	client *redis.Client
	prefix string
}

var (
	_ persistence.Persister   = (*Persister)(nil)
	_ persistence.Initializer = (*Persister)(nil)
)

// New creates a Persister. prefix is optional but recommended
// (default "stately:").
func New(client *redis.Client, prefix string) *Persister {
	if prefix == "" {
		prefix = "stately:"
	}
	return &Persister{client: client, prefix: prefix}
}

// Initialize pings the server to verify the connection.
func (p *Persister) Initialize(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis persister: %w", err)
	}
	return nil
}

func (p *Persister) keyCheckpoint(partitionKey, appID string, sequenceID int64) string {
	return fmt.Sprintf("%schk:%s:%s:%d", p.prefix, partitionKey, appID, sequenceID)
}

func (p *Persister) keyIndex(partitionKey, appID string) string {
	return p.prefix + "idx:" + partitionKey + ":" + appID
}

func (p *Persister) keyApps(partitionKey string) string {
	return p.prefix + "apps:" + partitionKey
}

type payload struct {
	Position  string         `json:"position"`
	Status    string         `json:"status"`
	State     map[string]any `json:"state"`
	CreatedAt time.Time      `json:"created_at"`
}

func (p *Persister) Load(ctx context.Context, partitionKey, appID string, sequenceID *int64) (*persistence.PersistedStateData, error) {
	seq := int64(0)
	if sequenceID != nil {
		seq = *sequenceID
	} else {
		members, err := p.client.ZRevRange(ctx, p.keyIndex(partitionKey, appID), 0, 0).Result()
		if err != nil {
			return nil, fmt.Errorf("redis persister: reading index: %w", err)
		}
		if len(members) == 0 {
			return nil, nil
		}
		seq, err = strconv.ParseInt(members[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis persister: corrupt index entry %q: %w", members[0], err)
		}
	}

	raw, err := p.client.Get(ctx, p.keyCheckpoint(partitionKey, appID, seq)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis persister: reading checkpoint: %w", err)
	}

	var pl payload
	if err := json.Unmarshal([]byte(raw), &pl); err != nil {
		return nil, fmt.Errorf("redis persister: corrupt checkpoint: %w", err)
	}
	st, err := state.Deserialize(pl.State)
	if err != nil {
		return nil, err
	}

	return &persistence.PersistedStateData{
		PartitionKey: partitionKey,
		AppID:        appID,
		SequenceID:   seq,
		Position:     pl.Position,
		State:        st,
		Status:       persistence.Status(pl.Status),
		CreatedAt:    pl.CreatedAt,
	}, nil
}

func (p *Persister) Save(ctx context.Context, partitionKey, appID string, sequenceID int64, position string, s state.State, status persistence.Status) error {
	serialized, err := s.Serialize()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(payload{
		Position:  position,
		Status:    string(status),
		State:     serialized,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("redis persister: encoding checkpoint: %w", err)
	}

	pipe := p.client.TxPipeline()
	pipe.Set(ctx, p.keyCheckpoint(partitionKey, appID, sequenceID), raw, 0)
	pipe.ZAdd(ctx, p.keyIndex(partitionKey, appID), redis.Z{
		Score:  float64(sequenceID),
		Member: strconv.FormatInt(sequenceID, 10),
	})
	pipe.SAdd(ctx, p.keyApps(partitionKey), appID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis persister: saving checkpoint: %w", err)
	}
	return nil
}

func (p *Persister) ListAppIDs(ctx context.Context, partitionKey string) ([]string, error) {
	ids, err := p.client.SMembers(ctx, p.keyApps(partitionKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis persister: listing app ids: %w", err)
	}
	return ids, nil
}
