package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-go-golems/pocketbrain/pkg/brain/securecodec"
	"github.com/go-go-golems/pocketbrain/pkg/brain/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) *securecodec.Key {
	t.Helper()
	k, err := securecodec.NewMemoryStore().GetOrCreateKey("test")
	require.NoError(t, err)
	return k
}

func brainPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "brain.bin")
}

func mustJSON(t *testing.T, tr *tree.Tree) string {
	t.Helper()
	b, err := json.Marshal(tr)
	require.NoError(t, err)
	return string(b)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	key := testKey(t)
	path := brainPath(t)

	tr := tree.NewEmpty()
	require.NoError(t, tr.AddChild(tree.RootID, tree.NewNode("b", tree.KindHolder, "")))
	require.NoError(t, tr.AddChild(tree.RootID, tree.NewNode("a", tree.KindOperator, "op")))
	require.NoError(t, tr.AddChild("b", tree.NewNode("z", tree.KindLeaf, `{"x":1}`)))
	require.NoError(t, tr.AddChild("b", tree.NewNode("y", tree.KindStream, "ü ✓")))

	require.NoError(t, Save(tr, path, key))
	loaded, err := Load(path, key)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, mustJSON(t, tr), mustJSON(t, loaded))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	matches, err := filepath.Glob(path + ".tmp-*")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestLoad_MissingFileIsFresh(t *testing.T) {
	tr, err := Load(brainPath(t), testKey(t))
	assert.NoError(t, err)
	assert.Nil(t, tr)
}

func TestLoad_TamperedFile(t *testing.T) {
	key := testKey(t)
	path := brainPath(t)
	require.NoError(t, Save(tree.NewEmpty(), path, key))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	b[len(b)-3] ^= 0xff
	require.NoError(t, os.WriteFile(path, b, 0o600))

	_, err = Load(path, key)
	var authErr *securecodec.AuthenticationError
	assert.ErrorAs(t, err, &authErr)
	assert.True(t, IsCorrupt(err))
}

func TestLoad_MalformedPlaintext(t *testing.T) {
	key := testKey(t)
	path := brainPath(t)
	blob, err := key.Encrypt([]byte("not json"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	_, err = Load(path, key)
	var malformed *MalformedDataError
	assert.ErrorAs(t, err, &malformed)
	assert.True(t, IsCorrupt(err))
}

func TestLoad_RepairsStructure(t *testing.T) {
	key := testKey(t)
	path := brainPath(t)
	raw := `{"id":"root","kind":"HOLDER","content":"","children":[
		{"id":"dup","kind":"LEAF","content":"one","children":[]},
		{"id":"dup","kind":"LEAF","content":"two","children":[]}]}`
	blob, err := key.Encrypt([]byte(raw))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	tr, err := Load(path, key)
	require.NoError(t, err)
	require.NoError(t, tr.Validate())
	assert.Equal(t, tree.KindRoot, tr.Root().Kind)
	require.Len(t, tr.Root().Children, 2)
	assert.Equal(t, "one", tr.Root().Children[0].Content)
	assert.Equal(t, "two", tr.Root().Children[1].Content)
}

func TestMigrate_IdempotentAndAdditive(t *testing.T) {
	tr := tree.NewEmpty()
	require.NoError(t, tr.AddChild(tree.RootID, tree.NewNode(IDChatHistory, tree.KindHolder, "keep")))
	require.NoError(t, tr.AddChild(IDChatHistory, tree.NewNode("c1", tree.KindLeaf, `{"title":"t"}`)))

	assert.True(t, Migrate(tr))
	once := mustJSON(t, tr)
	assert.False(t, Migrate(tr))
	assert.Equal(t, once, mustJSON(t, tr))

	assert.Equal(t, "keep", tr.FindByID(IDChatHistory).Content)
	assert.NotNil(t, tr.FindByID("c1"))
	assert.Equal(t, SystemLogsContent, tr.FindByID(IDSystemLogs).Content)
	for _, c := range MemoryCategories {
		n := tr.DirectChild(tr.FindByID(IDMemoryHistory), c)
		require.NotNil(t, n, c)
		assert.Equal(t, tree.KindStream, n.Kind)
		assert.Equal(t, MemoryCategoryContent, n.Content)
	}
	for _, id := range []string{IDModelState, IDSavedTTS} {
		assert.NotNil(t, tr.FindByID(id))
	}
}

func TestMigrate_RenamesLegacyModelState(t *testing.T) {
	tr := tree.NewEmpty()
	require.NoError(t, tr.AddChild(tree.RootID, tree.NewNode(legacyIDModelState, tree.KindHolder, "state")))

	Migrate(tr)
	assert.Nil(t, tr.FindByID(legacyIDModelState))
	assert.Equal(t, "state", tr.FindByID(IDModelState).Content)
}

func TestStore_OpenCreatesFreshFile(t *testing.T) {
	path := brainPath(t)
	s := New(path, testKey(t))
	require.NoError(t, s.Open(context.Background()))

	_, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, s.View(func(tr *tree.Tree) error {
		assert.NotNil(t, tr.FindByID(IDChatHistory))
		return nil
	}))
	assert.Nil(t, s.Recovery())
}

func TestStore_UpdateIsWriteThrough(t *testing.T) {
	key := testKey(t)
	path := brainPath(t)
	ctx := context.Background()

	s := New(path, key)
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Update(ctx, func(tr *tree.Tree) error {
		return tr.AddChild(IDChatHistory, tree.NewNode("c1", tree.KindLeaf, "hello"))
	}))

	other := New(path, key)
	require.NoError(t, other.Open(ctx))
	require.NoError(t, other.View(func(tr *tree.Tree) error {
		require.NotNil(t, tr.FindByID("c1"))
		assert.Equal(t, "hello", tr.FindByID("c1").Content)
		return nil
	}))
}

func TestStore_FailedUpdateLeavesTreeUnchanged(t *testing.T) {
	ctx := context.Background()
	s := New(brainPath(t), testKey(t))
	require.NoError(t, s.Open(ctx))

	err := s.Update(ctx, func(tr *tree.Tree) error {
		tr.DeleteByID(IDChatHistory)
		return fmt.Errorf("boom")
	})
	require.EqualError(t, err, "boom")
	require.NoError(t, s.View(func(tr *tree.Tree) error {
		assert.NotNil(t, tr.FindByID(IDChatHistory))
		return nil
	}))
}

func TestStore_ConcurrentUpdatesAreSerialized(t *testing.T) {
	ctx := context.Background()
	s := New(brainPath(t), testKey(t))
	require.NoError(t, s.Open(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Update(ctx, func(tr *tree.Tree) error {
				return tr.AddChild(IDChatHistory, tree.NewNode(fmt.Sprintf("c%d", i), tree.KindLeaf, ""))
			}))
		}(i)
	}
	wg.Wait()

	require.NoError(t, s.View(func(tr *tree.Tree) error {
		assert.Len(t, tr.FindByID(IDChatHistory).Children, 10)
		return nil
	}))
}

func corruptFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("definitely not an encrypted brain"), 0o600))
}

func TestStore_CorruptFail(t *testing.T) {
	path := brainPath(t)
	corruptFile(t, path)

	s := New(path, testKey(t))
	err := s.Open(context.Background())
	require.Error(t, err)
	assert.True(t, IsCorrupt(err))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "definitely not an encrypted brain", string(b))
	assert.ErrorIs(t, s.View(func(*tree.Tree) error { return nil }), ErrNotOpen)
}

func TestStore_CorruptBackupAndReset(t *testing.T) {
	path := brainPath(t)
	corruptFile(t, path)
	now := time.Unix(1700000000, 0)

	s := New(path, testKey(t), WithCorruptPolicy(CorruptBackupAndReset), WithClock(func() time.Time { return now }))
	require.NoError(t, s.Open(context.Background()))

	rec := s.Recovery()
	require.NotNil(t, rec)
	assert.Equal(t, path+".corrupt-1700000000", rec.BackupPath)
	b, err := os.ReadFile(rec.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, "definitely not an encrypted brain", string(b))

	require.NoError(t, s.View(func(tr *tree.Tree) error {
		assert.NotNil(t, tr.FindByID(IDSystemLogs))
		return nil
	}))
}

func TestStore_Closed(t *testing.T) {
	ctx := context.Background()
	s := New(brainPath(t), testKey(t))
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Update(ctx, func(*tree.Tree) error { return nil }), ErrClosed)
	_, err := s.Snapshot()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestParseCorruptPolicy(t *testing.T) {
	p, err := ParseCorruptPolicy("")
	require.NoError(t, err)
	assert.Equal(t, CorruptFail, p)
	p, err = ParseCorruptPolicy("backup-and-reset")
	require.NoError(t, err)
	assert.Equal(t, CorruptBackupAndReset, p)
	_, err = ParseCorruptPolicy("discard")
	assert.Error(t, err)
}
