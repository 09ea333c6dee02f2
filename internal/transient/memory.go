package transient

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/contactsdb/internal/types"
)

// MemoryStore is an in-process stand-in for the real shared-memory
// transient store, used by pipeline tests and any caller that does not
// need cross-process presence sharing (e.g. a single-process CLI run).
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[int32]*types.Contact
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[int32]*types.Contact)}
}

func (m *MemoryStore) Put(_ context.Context, contactID int32, c *types.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[contactID] = c
	return nil
}

func (m *MemoryStore) Invalidate(_ context.Context, contactID int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, contactID)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, contactID int32) (*types.Contact, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.entries[contactID]
	return c, ok, nil
}

// PutAll writes every (id, contact) pair concurrently, exercising the
// transient layer's async job thread-pool boundary without pulling in a
// dedicated message-bus dependency.
func (m *MemoryStore) PutAll(ctx context.Context, batch map[int32]*types.Contact) error {
	g, ctx := errgroup.WithContext(ctx)
	for id, c := range batch {
		id, c := id, c
		g.Go(func() error {
			return m.Put(ctx, id, c)
		})
	}
	return g.Wait()
}
