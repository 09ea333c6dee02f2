package sqlite

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreFetchRemoveOOB(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	kv := map[string][]byte{
		"avatar":     []byte(strings.Repeat("hello world ", 20)), // low entropy, compresses
		"small":      []byte("hi"),                               // below minCompressSize
		"randomlike": randomishBytes(256),                        // high entropy, should not compress
	}
	isText := map[string]bool{"avatar": true, "small": true}
	require.NoError(t, s.StoreOOB(ctx, "scope1", kv, isText))

	got, err := s.FetchOOB(ctx, "scope1", nil)
	require.NoError(t, err)
	for k, v := range kv {
		assert.Equal(t, v, got[k], "round-tripped value for %s must match", k)
	}

	has, err := s.HasOOB(ctx, "scope1", "avatar")
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, s.RemoveOOB(ctx, "scope1", []string{"avatar"}))
	has, err = s.HasOOB(ctx, "scope1", "avatar")
	require.NoError(t, err)
	assert.False(t, has)

	got, err = s.FetchOOB(ctx, "scope1", nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRemoveOOBWildcard(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.StoreOOB(ctx, "scope2", map[string][]byte{"a": []byte("1"), "b": []byte("2")}, nil))
	require.NoError(t, s.RemoveOOB(ctx, "scope2", nil))

	got, err := s.FetchOOB(ctx, "scope2", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMaybeCompressRoundTrip(t *testing.T) {
	text := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 10))
	compressed, code := maybeCompress(text, true)
	require.NotEqual(t, text, compressed)
	plain, err := decompress(compressed, code)
	require.NoError(t, err)
	assert.Equal(t, text, plain)
}

func randomishBytes(n int) []byte {
	out := make([]byte, n)
	x := uint32(2463534242)
	for i := range out {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		out[i] = byte(x)
	}
	return out
}
