package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_NormalizesWhitespace(t *testing.T) {
	a := Key("SELECT *\n\tFROM events  WHERE turn = ?", []any{3})
	b := Key("SELECT * FROM events WHERE turn = ?", []any{3})
	c := Key("SELECT * FROM events WHERE turn = ?", []any{4})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestMemoryBackend_EvictsOldestHalf(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend(4)
	for i := 0; i < 4; i++ {
		require.NoError(t, m.Set(ctx, fmt.Sprintf("k%d", i), []byte{byte(i)}))
	}
	require.Equal(t, 4, m.Len())

	require.NoError(t, m.Set(ctx, "k4", []byte{4}))

	assert.Equal(t, 3, m.Len())
	for _, gone := range []string{"k0", "k1"} {
		_, ok, _ := m.Get(ctx, gone)
		assert.False(t, ok, gone)
	}
	for _, kept := range []string{"k2", "k3", "k4"} {
		_, ok, _ := m.Get(ctx, kept)
		assert.True(t, ok, kept)
	}
}

func TestMemoryBackend_OverwriteDoesNotEvict(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend(2)
	require.NoError(t, m.Set(ctx, "a", []byte("1")))
	require.NoError(t, m.Set(ctx, "b", []byte("2")))
	require.NoError(t, m.Set(ctx, "a", []byte("3")))

	v, ok, _ := m.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, []byte("3"), v)
	assert.Equal(t, 2, m.Len())
}

func TestQueryCache_LookupRememberInvalidate(t *testing.T) {
	ctx := context.Background()
	qc := New(NewMemoryBackend(10), nil)

	var got []int
	assert.False(t, qc.Lookup(ctx, "q", []any{1}, &got))

	qc.Remember(ctx, "q", []any{1}, []int{7, 8})
	require.True(t, qc.Lookup(ctx, "q", []any{1}, &got))
	assert.Equal(t, []int{7, 8}, got)

	qc.Invalidate(ctx)
	assert.False(t, qc.Lookup(ctx, "q", []any{1}, &got))

	stats := qc.Stats()
	assert.Equal(t, "memory", stats.Backend)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
	assert.InDelta(t, 1.0/3.0, stats.HitRate, 1e-9)
}

type brokenBackend struct{}

func (brokenBackend) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("down")
}
func (brokenBackend) Set(context.Context, string, []byte) error { return errors.New("down") }
func (brokenBackend) Clear(context.Context) error               { return errors.New("down") }
func (brokenBackend) Name() string                              { return "broken" }

func TestQueryCache_BackendErrorsAreMisses(t *testing.T) {
	ctx := context.Background()
	qc := New(brokenBackend{}, nil)

	qc.Remember(ctx, "q", nil, 1)
	var v int
	assert.False(t, qc.Lookup(ctx, "q", nil, &v))
	qc.Invalidate(ctx)
	assert.Equal(t, int64(1), qc.Stats().Misses)
}
