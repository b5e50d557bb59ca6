package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/go-go-golems/pocketbrain/pkg/brain/securecodec"
	"github.com/go-go-golems/pocketbrain/pkg/brain/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	key, err := securecodec.NewMemoryStore().GetOrCreateKey("test")
	require.NoError(t, err)
	s := store.New(filepath.Join(t.TempDir(), "brain.bin"), key)
	require.NoError(t, s.Open(context.Background()))
	return s
}

func TestNormalizeCategory(t *testing.T) {
	for in, want := range map[string]string{
		"Family":        "family",
		" work ":        "work",
		"Entertainment": "entertainment",
	} {
		got, err := NormalizeCategory(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := NormalizeCategory("pets")
	assert.ErrorIs(t, err, ErrUnknownCategory)
}

func TestManager_AppendGetRemove(t *testing.T) {
	ctx := context.Background()
	m := New(openStore(t))

	empty, err := m.Get("family")
	require.NoError(t, err)
	assert.Empty(t, empty)

	a, err := m.Append(ctx, "Family", "sister lives in Lyon")
	require.NoError(t, err)
	_, err = m.Append(ctx, "family", "dad likes chess")
	require.NoError(t, err)

	entries, err := m.Get("family")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "sister lives in Lyon", entries[0].Text)

	found, err := m.Remove(ctx, "family", a.ID)
	require.NoError(t, err)
	assert.True(t, found)
	found, err = m.Remove(ctx, "family", a.ID)
	require.NoError(t, err)
	assert.False(t, found)

	entries, err = m.Get("family")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "dad likes chess", entries[0].Text)
}

func TestManager_ClearAndEmptyText(t *testing.T) {
	ctx := context.Background()
	m := New(openStore(t))

	_, err := m.Append(ctx, "work", "  ")
	assert.Error(t, err)

	_, err = m.Append(ctx, "work", "standup at 9")
	require.NoError(t, err)
	require.NoError(t, m.Clear(ctx, "work"))

	entries, err := m.Get("work")
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Len(t, Categories(), 7)
}
