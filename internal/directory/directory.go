package directory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

var ErrPatientNotFound = errors.New("patient not found")

// Patients resolves display names for audit snapshots.
type Patients interface {
	PatientName(ctx context.Context, id uuid.UUID) (string, error)
}

type Memory struct {
	mu    sync.RWMutex
	names map[uuid.UUID]string
}

func NewMemory() *Memory {
	return &Memory{names: make(map[uuid.UUID]string)}
}

func (m *Memory) Put(id uuid.UUID, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names[id] = name
}

func (m *Memory) PatientName(_ context.Context, id uuid.UUID) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name, ok := m.names[id]
	if !ok {
		return "", ErrPatientNotFound
	}
	return name, nil
}

// Cached keeps resolved names for ttl. Misses are not cached.
type Cached struct {
	next  Patients
	names *cache.Cache
}

func NewCached(next Patients, ttl time.Duration) *Cached {
	return &Cached{
		next:  next,
		names: cache.New(ttl, 2*ttl),
	}
}

func (c *Cached) PatientName(ctx context.Context, id uuid.UUID) (string, error) {
	key := id.String()
	if v, found := c.names.Get(key); found {
		return v.(string), nil
	}

	name, err := c.next.PatientName(ctx, id)
	if err != nil {
		return "", err
	}

	c.names.SetDefault(key, name)
	return name, nil
}
