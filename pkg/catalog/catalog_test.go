package catalog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sonael/Babel-Storage/pkg/metadata"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(Config{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func catalogRecord(name string) *metadata.FileRecord {
	return &metadata.FileRecord{
		ProtocolVersion: metadata.ProtocolVersion,
		OriginalName:    name,
		OriginalSize:    1234,
		CompressedSize:  600,
		Compression:     metadata.Compression{Algorithm: metadata.CompressionAlgorithm, Level: metadata.CompressionLevel},
		FileSHA256:      strings.Repeat("aa", 32),
		ChunkCount:      1,
		Chunks: []metadata.ChunkRef{{
			Index:      0,
			Coordinate: metadata.Coordinate{Hexagon: "cat", Wall: 1, Shelf: 1, Volume: 1, Page: 1},
			RawLen:     600,
			SHA256:     strings.Repeat("bb", 32),
		}},
		Encoding: "base29-v5",
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	c := openTestCatalog(t)
	rec := catalogRecord("notes.txt")

	require.NoError(t, c.Put("id-1", rec))

	loaded, err := c.Get("id-1")
	require.NoError(t, err)
	assert.Equal(t, rec, loaded)
}

func TestGetRawIsEnvelopeBytes(t *testing.T) {
	c := openTestCatalog(t)
	rec := catalogRecord("raw.bin")
	require.NoError(t, c.Put("id-raw", rec))

	blob, err := c.GetRaw("id-raw")
	require.NoError(t, err)

	loaded, err := metadata.DecodeBytes(blob, true)
	require.NoError(t, err)
	assert.Equal(t, rec, loaded)
}

func TestGetUnknownID(t *testing.T) {
	c := openTestCatalog(t)

	_, err := c.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListEntries(t *testing.T) {
	c := openTestCatalog(t)

	require.NoError(t, c.Put("a", catalogRecord("first.txt")))
	require.NoError(t, c.Put("b", catalogRecord("second.txt")))

	entries, err := c.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	names := []string{entries[0].OriginalName, entries[1].OriginalName}
	assert.ElementsMatch(t, []string{"first.txt", "second.txt"}, names)
	for _, entry := range entries {
		assert.Equal(t, 1, entry.ChunkCount)
		assert.False(t, entry.Signed)
		assert.False(t, entry.StoredAt.IsZero())
	}
}

func TestDelete(t *testing.T) {
	c := openTestCatalog(t)
	require.NoError(t, c.Put("gone", catalogRecord("gone.txt")))

	require.NoError(t, c.Delete("gone"))

	_, err := c.Get("gone")
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err := c.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSignedFlag(t *testing.T) {
	c := openTestCatalog(t)
	rec := catalogRecord("signed.txt")
	rec.Signature = "c2ln"
	require.NoError(t, c.Put("s", rec))

	entries, err := c.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Signed)
}
