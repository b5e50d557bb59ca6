package tree

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTree(t *testing.T) *Tree {
	t.Helper()
	tr := NewEmpty()
	require.NoError(t, tr.AddChild(RootID, NewNode("chatHistory", KindHolder, "")))
	require.NoError(t, tr.AddChild("chatHistory", NewNode("c1", KindLeaf, `{"title":"a"}`)))
	require.NoError(t, tr.AddChild("chatHistory", NewNode("c2", KindLeaf, `{"title":"b"}`)))
	require.NoError(t, tr.AddChild(RootID, NewNode("memoryHistory", KindHolder, "")))
	require.NoError(t, tr.AddChild("memoryHistory", NewNode("family", KindStream, `{"messages":[]}`)))
	return tr
}

func ids(nodes []*Node) []string {
	ret := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ret = append(ret, n.ID)
	}
	return ret
}

func TestTree_FindByID(t *testing.T) {
	tr := sampleTree(t)

	n := tr.FindByID("c2")
	require.NotNil(t, n)
	assert.Equal(t, `{"title":"b"}`, n.Content)
	assert.Nil(t, tr.FindByID("missing"))
	assert.Same(t, tr.Root(), tr.FindByID(RootID))
}

func TestTree_DeleteByID_RemovesSubtree(t *testing.T) {
	tr := sampleTree(t)

	assert.True(t, tr.DeleteByID("chatHistory"))
	assert.Nil(t, tr.FindByID("c1"))
	assert.Nil(t, tr.FindByID("c2"))
	assert.False(t, tr.DeleteByID("chatHistory"))
	assert.False(t, tr.DeleteByID(RootID))
	assert.Equal(t, []string{"root", "memoryHistory", "family"}, ids(tr.CollectAll()))
}

func TestTree_CollectAll_PreOrder(t *testing.T) {
	tr := sampleTree(t)

	expected := []string{"root", "chatHistory", "c1", "c2", "memoryHistory", "family"}
	assert.Equal(t, expected, ids(tr.CollectAll()))
	// restartable
	assert.Equal(t, expected, ids(tr.CollectAll()))
	assert.Equal(t, 6, tr.Len())
}

func TestTree_DirectChild(t *testing.T) {
	tr := sampleTree(t)

	assert.NotNil(t, tr.DirectChild(tr.Root(), "chatHistory"))
	assert.Nil(t, tr.DirectChild(tr.Root(), "c1"))
}

func TestTree_AddChild_Errors(t *testing.T) {
	tr := sampleTree(t)

	err := tr.AddChild("nope", NewNode("x", KindLeaf, ""))
	assert.ErrorIs(t, err, ErrNotFound)
	err = tr.AddChild(RootID, NewNode("c1", KindLeaf, ""))
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestTree_JSONRoundTrip(t *testing.T) {
	tr := sampleTree(t)

	b, err := json.Marshal(tr)
	require.NoError(t, err)

	var back Tree
	require.NoError(t, json.Unmarshal(b, &back))
	require.NoError(t, back.Validate())

	orig := tr.CollectAll()
	got := back.CollectAll()
	require.Len(t, got, len(orig))
	for i := range orig {
		assert.Equal(t, orig[i].ID, got[i].ID)
		assert.Equal(t, orig[i].Kind, got[i].Kind)
		assert.Equal(t, orig[i].Content, got[i].Content)
	}
}

func TestKind_UnmarshalLegacySpelling(t *testing.T) {
	var n Node
	require.NoError(t, json.Unmarshal([]byte(`{"id":"x","kind":"STEAM","content":"","children":[]}`), &n))
	assert.Equal(t, KindStream, n.Kind)

	err := json.Unmarshal([]byte(`{"id":"x","kind":"BOGUS"}`), &n)
	assert.Error(t, err)
}

func TestTree_Clone_IsDeep(t *testing.T) {
	tr := sampleTree(t)
	cp := tr.Clone()

	cp.FindByID("c1").Content = "changed"
	require.True(t, cp.DeleteByID("family"))

	assert.Equal(t, `{"title":"a"}`, tr.FindByID("c1").Content)
	assert.NotNil(t, tr.FindByID("family"))
}

func TestTree_Validate(t *testing.T) {
	tr := sampleTree(t)
	require.NoError(t, tr.Validate())

	tr.FindByID("memoryHistory").Append(NewNode("c1", KindLeaf, ""))
	assert.ErrorIs(t, tr.Validate(), ErrDuplicateID)

	bad := New(NewNode("root", KindHolder, ""))
	assert.Error(t, bad.Validate())
}
