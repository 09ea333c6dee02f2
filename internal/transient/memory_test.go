package transient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/contactsdb/internal/types"
)

func TestMemoryStorePutGetInvalidate(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	c := &types.Contact{ID: 7}
	require.NoError(t, m.Put(ctx, 7, c))

	got, ok, err := m.Get(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, c, got)

	require.NoError(t, m.Invalidate(ctx, 7))
	_, ok, err = m.Get(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStorePutAllConcurrent(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	batch := map[int32]*types.Contact{
		1: {ID: 1},
		2: {ID: 2},
		3: {ID: 3},
	}
	require.NoError(t, m.PutAll(ctx, batch))

	for id := range batch {
		_, ok, err := m.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}
