package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndRecent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "create a makefile", "succeeded", ""))
	require.NoError(t, store.Save(ctx, "fix failing tests", "aborted", "replanning exhausted"))

	records, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "fix failing tests", records[0].Goal, "newest first")
	assert.Equal(t, "aborted", records[0].Outcome)
	assert.False(t, records[0].CreatedAt.IsZero())
}

func TestFindSimilarRanksByOverlap(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "create a python script that sorts numbers", "succeeded", ""))
	require.NoError(t, store.Save(ctx, "delete old docker images", "succeeded", ""))
	require.NoError(t, store.Save(ctx, "write a python script for parsing logs", "aborted", "loop"))

	similar, err := store.FindSimilar(ctx, "make a python script to parse csv files", 2)
	require.NoError(t, err)
	require.Len(t, similar, 2)
	assert.Contains(t, similar[0].Goal, "python script")
	assert.Contains(t, similar[1].Goal, "python script")
}

func TestFindSimilarOmitsUnrelated(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "restart the nginx service", "succeeded", ""))

	similar, err := store.FindSimilar(ctx, "compress pictures", 3)
	require.NoError(t, err)
	assert.Empty(t, similar)
}

func TestFindSimilarEmptyStore(t *testing.T) {
	store := openTestStore(t)

	similar, err := store.FindSimilar(context.Background(), "anything", 3)
	require.NoError(t, err)
	assert.Empty(t, similar)
}

func TestTokenizeAndOverlap(t *testing.T) {
	a := tokenize("Create a Python script!")
	assert.True(t, a["python"])
	assert.True(t, a["script"])
	assert.False(t, a["a"], "stopwords are dropped")

	b := tokenize("python script for csv")
	assert.Greater(t, overlap(a, b), 0.0)
	assert.Equal(t, 0.0, overlap(a, tokenize("")))
	assert.Equal(t, 1.0, overlap(a, a))
}
