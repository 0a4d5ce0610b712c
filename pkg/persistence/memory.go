package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/petrijr/stately/pkg/state"
)

// InMemoryPersister is a goroutine-safe Persister backed by maps. State is
// stored by reference to the immutable snapshot, so no copying is needed.
// It is intended for tests and development; it is not durable.
type InMemoryPersister struct {
	mu   sync.RWMutex
	data map[string]map[string][]*PersistedStateData // partition -> app -> checkpoints in save order
}

var _ Persister = (*InMemoryPersister)(nil)

// NewInMemoryPersister creates an empty InMemoryPersister.
func NewInMemoryPersister() *InMemoryPersister {
	return &InMemoryPersister{
		data: make(map[string]map[string][]*PersistedStateData),
	}
}

func (p *InMemoryPersister) Load(ctx context.Context, partitionKey, appID string, sequenceID *int64) (*PersistedStateData, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	checkpoints := p.data[partitionKey][appID]
	if len(checkpoints) == 0 {
		return nil, nil
	}
	if sequenceID == nil {
		latest := checkpoints[len(checkpoints)-1]
		copied := *latest
		return &copied, nil
	}
	// Scan backwards so the most recent save for a sequence wins.
	for i := len(checkpoints) - 1; i >= 0; i-- {
		if checkpoints[i].SequenceID == *sequenceID {
			copied := *checkpoints[i]
			return &copied, nil
		}
	}
	return nil, nil
}

func (p *InMemoryPersister) Save(ctx context.Context, partitionKey, appID string, sequenceID int64, position string, s state.State, status Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	apps, ok := p.data[partitionKey]
	if !ok {
		apps = make(map[string][]*PersistedStateData)
		p.data[partitionKey] = apps
	}
	apps[appID] = append(apps[appID], &PersistedStateData{
		PartitionKey: partitionKey,
		AppID:        appID,
		SequenceID:   sequenceID,
		Position:     position,
		State:        s,
		Status:       status,
		CreatedAt:    time.Now(),
	})
	return nil
}

func (p *InMemoryPersister) ListAppIDs(ctx context.Context, partitionKey string) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	apps := p.data[partitionKey]
	ids := make([]string, 0, len(apps))
	for id := range apps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// SaveCount reports how many checkpoints have been written for an app.
// Test helper.
func (p *InMemoryPersister) SaveCount(partitionKey, appID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.data[partitionKey][appID])
}
