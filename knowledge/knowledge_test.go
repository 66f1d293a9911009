package knowledge

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRank(t *testing.T) {
	docs := []Document{
		{Kind: KindWorldview, Text: "The city of Vell floats above a poisoned sea."},
		{Kind: KindChapter, Chapter: 1, Text: "Mara steals the lighthouse key and flees the city."},
		{Kind: KindCharacter, Text: "Mara: a smuggler with a debt to the lighthouse keeper."},
	}

	got := rank(docs, "Where is the lighthouse key?", 5)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Chapter, "document matching both terms ranks first")
	assert.Greater(t, got[0].Score, got[1].Score)

	assert.Empty(t, rank(docs, "a an of", 5), "short words are ignored")
	assert.Empty(t, rank(docs, "lighthouse", 0))
	assert.Len(t, rank(docs, "lighthouse", 1), 1)
}

// runContract exercises the Base contract against a backend.
func runContract(t *testing.T, kb Base) {
	t.Helper()
	ctx := context.Background()
	jobA := uuid.NewString()
	jobB := uuid.NewString()

	require.NoError(t, kb.Add(ctx, jobA,
		Document{Kind: KindOutline, Text: "A lighthouse keeper guards a drowned archive."},
		Document{Kind: KindChapter, Chapter: 1, Text: "The keeper finds a letter inside the archive."},
	))
	require.NoError(t, kb.Add(ctx, jobB,
		Document{Kind: KindOutline, Text: "An archive of drowned lighthouse letters."},
	))

	got, err := kb.Retrieve(ctx, jobA, "archive letter", 5)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	for _, s := range got {
		assert.NotEqual(t, "An archive of drowned lighthouse letters.", s.Text, "documents must not leak across jobs")
	}

	require.NoError(t, kb.Delete(ctx, jobA))
	got, err = kb.Retrieve(ctx, jobA, "archive letter", 5)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = kb.Retrieve(ctx, jobB, "archive", 5)
	require.NoError(t, err)
	assert.Len(t, got, 1, "deleting one job keeps the others")
}

func TestMemoryBase(t *testing.T) {
	kb := NewMemoryBase()
	runContract(t, kb)

	require.NoError(t, kb.Add(context.Background(), "j", Document{Text: "x"}, Document{Text: "y"}))
	assert.Equal(t, 2, kb.Len("j"))
}

func TestBadgerBase(t *testing.T) {
	kb, err := OpenBadger(InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = kb.Close() })

	runContract(t, kb)
}

func TestBadgerBase_Persistent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	kb, err := OpenBadger(DefaultBadgerConfig(dir))
	require.NoError(t, err)
	require.NoError(t, kb.Add(ctx, "job", Document{Kind: KindPlan, Text: "Chapter one: the storm arrives."}))
	require.NoError(t, kb.Close())
	require.NoError(t, kb.Close(), "second close is a no-op")

	_, err = kb.Retrieve(ctx, "job", "storm", 3)
	assert.ErrorIs(t, err, ErrClosed)

	kb, err = OpenBadger(DefaultBadgerConfig(dir))
	require.NoError(t, err)
	defer func() { _ = kb.Close() }()

	got, err := kb.Retrieve(ctx, "job", "storm", 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, KindPlan, got[0].Kind)
}

func TestOpenBadger_RequiresPath(t *testing.T) {
	_, err := OpenBadger(BadgerConfig{})
	assert.Error(t, err)
}

func TestWeaviateBase(t *testing.T) {
	host := os.Getenv("STORYGRAPH_TEST_WEAVIATE_HOST")
	if host == "" {
		t.Skip("STORYGRAPH_TEST_WEAVIATE_HOST not set")
	}

	kb, err := NewWeaviateBase(context.Background(), WeaviateConfig{Host: host, Class: "StoryFactTest"})
	require.NoError(t, err)
	runContract(t, kb)
}
