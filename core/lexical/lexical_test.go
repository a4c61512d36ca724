package lexical_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/rudder/core/lexical"
)

func newTestIndex(t *testing.T) *lexical.Index {
	t.Helper()
	idx, err := lexical.NewIndex(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func seedCandidates(t *testing.T, idx *lexical.Index) {
	t.Helper()
	docs := []lexical.Document{
		{ID: "fs:read", Name: "Read File", Description: "Reads a file from the local filesystem"},
		{ID: "net:fetch", Name: "HTTP Fetch", Description: "Fetches a URL over HTTP and returns the body"},
		{ID: "shell:exec", Name: "Run Command", Description: "Executes a shell command"},
	}
	for _, d := range docs {
		require.NoError(t, idx.Upsert(d))
	}
}

func TestRankOrdersByRelevance(t *testing.T) {
	idx := newTestIndex(t)
	seedCandidates(t, idx)

	matches := idx.Rank("fetch a url over http", 5)

	require.NotEmpty(t, matches)
	assert.Equal(t, "net:fetch", matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Relevance, 1e-9)
	for _, m := range matches[1:] {
		assert.Less(t, m.Relevance, 1.0)
	}
}

func TestRankMatchesIDTokens(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Upsert(lexical.Document{ID: "fs:read"}))

	matches := idx.Rank("read", 5)

	require.Len(t, matches, 1)
	assert.Equal(t, "fs:read", matches[0].ID)
}

func TestRankEmptyQueryAndEmptyIndex(t *testing.T) {
	idx := newTestIndex(t)

	assert.Nil(t, idx.Rank("", 5))
	assert.Nil(t, idx.Rank("anything", 5))

	seedCandidates(t, idx)
	assert.Nil(t, idx.Rank("", 5))
}

func TestRankHonorsLimit(t *testing.T) {
	idx := newTestIndex(t)
	seedCandidates(t, idx)

	matches := idx.Rank("file command url", 1)

	assert.LessOrEqual(t, len(matches), 1)
}

func TestUpsertReplacesDocument(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Upsert(lexical.Document{ID: "fs:read", Description: "reads bytes"}))
	require.NoError(t, idx.Upsert(lexical.Document{ID: "fs:read", Description: "streams archives"}))

	assert.Equal(t, 1, idx.Count())
	assert.Empty(t, idx.Rank("bytes", 5))
	assert.NotEmpty(t, idx.Rank("archives", 5))
}

func TestRemove(t *testing.T) {
	idx := newTestIndex(t)
	seedCandidates(t, idx)

	require.NoError(t, idx.Remove("net:fetch"))

	assert.Equal(t, 2, idx.Count())
	for _, m := range idx.Rank("fetch url http", 5) {
		assert.NotEqual(t, "net:fetch", m.ID)
	}
}

func TestClosedIndexRejectsWrites(t *testing.T) {
	idx := newTestIndex(t)
	seedCandidates(t, idx)
	require.NoError(t, idx.Close())

	assert.ErrorIs(t, idx.Upsert(lexical.Document{ID: "fs:write"}), lexical.ErrIndexClosed)
	assert.Nil(t, idx.Rank("file", 5))
	assert.Equal(t, 0, idx.Count())
	assert.NoError(t, idx.Close())
}
