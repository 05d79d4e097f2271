package babelstorage_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	babelstorage "github.com/Sonael/Babel-Storage"
	"github.com/Sonael/Babel-Storage/pkg/babelclient"
	"github.com/Sonael/Babel-Storage/pkg/babelcodec"
	"github.com/Sonael/Babel-Storage/pkg/chunker"
	"github.com/Sonael/Babel-Storage/pkg/metadata"
	"github.com/Sonael/Babel-Storage/pkg/progress"
	"github.com/Sonael/Babel-Storage/pkg/signature"
)

// fakeOracle is a deterministic in-memory Library of Babel: the
// coordinate of a page is derived from the page's hash, and fetch
// returns exactly what search shelved.
type fakeOracle struct {
	mu          sync.Mutex
	pages       map[string]string
	searchCalls int
	fetchCalls  int

	// corruptFetch flips one symbol of every fetched page.
	corruptFetch bool
	// breakFetchAfter replaces the version marker of fetched pages
	// with an unassigned alphabet symbol once this many fetches have
	// happened, making the page undecodable. -1 disables.
	breakFetchAfter int
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{pages: map[string]string{}, breakFetchAfter: -1}
}

func coordFor(page string) metadata.Coordinate {
	sum := sha256.Sum256([]byte(page))
	return metadata.Coordinate{
		Hexagon: hex.EncodeToString(sum[:8]),
		Wall:    int(sum[8])%4 + 1,
		Shelf:   int(sum[9])%5 + 1,
		Volume:  int(sum[10])%32 + 1,
		Page:    int(sum[11])%410 + 1,
	}
}

func (f *fakeOracle) Search(_ context.Context, page string) (metadata.Coordinate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++

	coord := coordFor(page)
	f.pages[coord.String()] = page
	return coord, nil
}

func (f *fakeOracle) Fetch(_ context.Context, coord metadata.Coordinate) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++

	page, ok := f.pages[coord.String()]
	if !ok {
		return "", fmt.Errorf("%w: no page at %s", babelclient.ErrOracleProtocolError, coord)
	}
	if f.corruptFetch {
		// 'b' and 'c' are both in the alphabet, so the corruption
		// survives page validation and only a comparison with the
		// uploaded page catches it.
		head := "b"
		if page[0] == 'b' {
			head = "c"
		}
		page = head + page[1:]
	}
	if f.breakFetchAfter >= 0 && f.fetchCalls > f.breakFetchAfter {
		// 'e' is in the alphabet but is not an envelope marker, so the
		// page passes validation and fails in the codec.
		page = "e" + page[1:]
	}
	return page, nil
}

// pseudoRandom yields incompressible deterministic bytes so chunk
// counts are predictable.
func pseudoRandom(n int) []byte {
	out := make([]byte, n)
	state := uint64(0x9e3779b97f4a7c15)
	for i := range out {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		out[i] = byte(state)
	}
	return out
}

func newTestStorage(oracle *fakeOracle) *babelstorage.Storage {
	return babelstorage.New(babelstorage.Config{
		Client:   oracle,
		Progress: progress.NewTracker(),
	})
}

func testSigningKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	oracle := newFakeOracle()
	s := newTestStorage(oracle)
	input := pseudoRandom(3 * chunker.PayloadMax)

	rec, err := s.Upload(context.Background(), input, "random.bin", babelstorage.UploadOptions{})
	require.NoError(t, err)
	require.NoError(t, rec.ValidateStructure())

	res, err := s.Download(context.Background(), rec, babelstorage.DownloadOptions{Strict: true})
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, input, res.Data)
}

func TestUploadEmptyFile(t *testing.T) {
	oracle := newFakeOracle()
	s := newTestStorage(oracle)

	rec, err := s.Upload(context.Background(), []byte{}, "empty.bin", babelstorage.UploadOptions{})
	require.NoError(t, err)

	// zstd of nothing is a non-empty frame, so there is one chunk and
	// the file hash covers that frame.
	assert.Equal(t, 1, rec.ChunkCount)
	assert.Equal(t, int64(0), rec.OriginalSize)
	assert.Greater(t, rec.CompressedSize, int64(0))
	assert.Equal(t, chunker.HashHex(chunker.Compress(nil)), rec.FileSHA256)

	res, err := s.Download(context.Background(), rec, babelstorage.DownloadOptions{Strict: true})
	require.NoError(t, err)
	assert.Empty(t, res.Data)
	assert.True(t, res.Verified)
}

func TestUploadSingleChunk(t *testing.T) {
	oracle := newFakeOracle()
	s := newTestStorage(oracle)
	input := strings.Repeat("A", 100)

	rec, err := s.Upload(context.Background(), []byte(input), "a100.txt", babelstorage.UploadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ChunkCount)
	assert.Equal(t, metadata.ProtocolVersion, rec.ProtocolVersion)
	assert.Equal(t, "base29-v5", rec.Encoding)
	assert.Equal(t, "zstd", rec.Compression.Algorithm)
	assert.Equal(t, 19, rec.Compression.Level)

	res, err := s.Download(context.Background(), rec, babelstorage.DownloadOptions{Strict: true})
	require.NoError(t, err)
	assert.Equal(t, []byte(input), res.Data)
}

func TestUploadMultiChunkBoundary(t *testing.T) {
	oracle := newFakeOracle()
	s := newTestStorage(oracle)

	// Incompressible input sized so the compressed stream lands a few
	// bytes past two full chunks.
	input := pseudoRandom(2*chunker.PayloadMax + 1)
	rec, err := s.Upload(context.Background(), input, "boundary.bin", babelstorage.UploadOptions{})
	require.NoError(t, err)

	require.GreaterOrEqual(t, rec.ChunkCount, 3)
	seen := map[string]bool{}
	var total int64
	for i, ref := range rec.Chunks {
		assert.Equal(t, i, ref.Index)
		assert.False(t, seen[ref.SHA256], "chunk hashes must be distinct")
		seen[ref.SHA256] = true
		total += int64(ref.RawLen)
	}
	assert.Equal(t, rec.CompressedSize, total)

	res, err := s.Download(context.Background(), rec, babelstorage.DownloadOptions{Strict: true})
	require.NoError(t, err)
	assert.Equal(t, input, res.Data)
}

func TestUploadRejectsNilInput(t *testing.T) {
	s := newTestStorage(newFakeOracle())

	_, err := s.Upload(context.Background(), nil, "nil.bin", babelstorage.UploadOptions{})
	assert.ErrorIs(t, err, chunker.ErrBadInput)
}

func TestUploadRejectsOversizedInput(t *testing.T) {
	s := babelstorage.New(babelstorage.Config{
		Client:       newFakeOracle(),
		MaxInputSize: 64,
	})

	_, err := s.Upload(context.Background(), pseudoRandom(65), "big.bin", babelstorage.UploadOptions{})
	assert.ErrorIs(t, err, chunker.ErrBadInput)
}

func TestUploadReadbackCatchesCorruption(t *testing.T) {
	oracle := newFakeOracle()
	oracle.corruptFetch = true
	s := newTestStorage(oracle)

	_, err := s.Upload(context.Background(), []byte("payload"), "x.bin", babelstorage.UploadOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, babelclient.ErrOracleProtocolError)

	var chunkErr *chunker.ChunkError
	assert.ErrorAs(t, err, &chunkErr)
}

func TestUploadCancellation(t *testing.T) {
	s := newTestStorage(newFakeOracle())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Upload(ctx, pseudoRandom(10*chunker.PayloadMax), "c.bin", babelstorage.UploadOptions{})
	assert.ErrorIs(t, err, babelstorage.ErrCancelled)
}

func TestDownloadTamperedChunkHashStrict(t *testing.T) {
	oracle := newFakeOracle()
	s := newTestStorage(oracle)

	rec, err := s.Upload(context.Background(), pseudoRandom(4000), "t.bin", babelstorage.UploadOptions{})
	require.NoError(t, err)

	// Mutate one byte of one chunk digest in the record.
	digest := []byte(rec.Chunks[1].SHA256)
	if digest[0] == 'a' {
		digest[0] = 'b'
	} else {
		digest[0] = 'a'
	}
	rec.Chunks[1].SHA256 = string(digest)

	_, err = s.Download(context.Background(), rec, babelstorage.DownloadOptions{Strict: true})
	require.ErrorIs(t, err, chunker.ErrChunkHashMismatch)

	var chunkErr *chunker.ChunkError
	require.ErrorAs(t, err, &chunkErr)
	assert.Equal(t, 1, chunkErr.Index)
}

func TestDownloadTamperedChunkHashNonStrict(t *testing.T) {
	oracle := newFakeOracle()
	s := newTestStorage(oracle)

	input := pseudoRandom(4000)
	rec, err := s.Upload(context.Background(), input, "t.bin", babelstorage.UploadOptions{})
	require.NoError(t, err)

	rec.Chunks[0].SHA256 = strings.Repeat("0", 64)

	res, err := s.Download(context.Background(), rec, babelstorage.DownloadOptions{Strict: false})
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.NotEmpty(t, res.Warnings)
	// The page itself was intact, so the data still reconstructs.
	assert.Equal(t, input, res.Data)
}

func TestDownloadUndecodablePageStrict(t *testing.T) {
	oracle := newFakeOracle()
	s := newTestStorage(oracle)

	rec, err := s.Upload(context.Background(), []byte("decode me"), "d.bin", babelstorage.UploadOptions{})
	require.NoError(t, err)

	// Every fetch from here on returns a page with an unknown version
	// marker.
	oracle.breakFetchAfter = 0

	_, err = s.Download(context.Background(), rec, babelstorage.DownloadOptions{Strict: true})
	require.ErrorIs(t, err, babelcodec.ErrBadVersion)

	var chunkErr *chunker.ChunkError
	require.ErrorAs(t, err, &chunkErr)
	assert.Equal(t, 0, chunkErr.Index)
}

func TestDownloadUndecodablePageNonStrict(t *testing.T) {
	oracle := newFakeOracle()
	s := newTestStorage(oracle)

	rec, err := s.Upload(context.Background(), []byte("decode me"), "d.bin", babelstorage.UploadOptions{})
	require.NoError(t, err)

	oracle.breakFetchAfter = 0

	res, err := s.Download(context.Background(), rec, babelstorage.DownloadOptions{Strict: false})
	require.NoError(t, err)
	assert.False(t, res.Verified)

	found := false
	for _, warning := range res.Warnings {
		if errors.Is(warning.Err, babelcodec.ErrBadVersion) {
			found = true
			assert.Equal(t, 0, warning.Index)
		}
	}
	assert.True(t, found, "decode failure must surface as a warning")
}

func TestSignedUploadVerifies(t *testing.T) {
	oracle := newFakeOracle()
	s := newTestStorage(oracle)
	key := testSigningKey(t)

	rec, err := s.Upload(context.Background(), []byte("signed payload"), "s.bin",
		babelstorage.UploadOptions{PrivateKey: key})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.Signature)
	assert.NotEmpty(t, rec.PublicKeyFingerprint)

	res, err := s.Download(context.Background(), rec, babelstorage.DownloadOptions{
		PublicKey: &key.PublicKey,
		Strict:    true,
	})
	require.NoError(t, err)
	assert.True(t, res.Verified)
}

func TestDownloadTamperedSignature(t *testing.T) {
	oracle := newFakeOracle()
	s := newTestStorage(oracle)
	key := testSigningKey(t)

	rec, err := s.Upload(context.Background(), []byte("payload"), "s.bin",
		babelstorage.UploadOptions{PrivateKey: key})
	require.NoError(t, err)

	sig := []byte(rec.Signature)
	sig[0] ^= 0x01
	rec.Signature = string(sig)

	_, err = s.Download(context.Background(), rec, babelstorage.DownloadOptions{
		PublicKey: &key.PublicKey,
	})
	assert.ErrorIs(t, err, signature.ErrBadSignature)
}

func TestDownloadMissingSignature(t *testing.T) {
	oracle := newFakeOracle()
	s := newTestStorage(oracle)
	key := testSigningKey(t)

	rec, err := s.Upload(context.Background(), []byte("unsigned"), "u.bin", babelstorage.UploadOptions{})
	require.NoError(t, err)

	// Strict demands the signature.
	_, err = s.Download(context.Background(), rec, babelstorage.DownloadOptions{
		PublicKey: &key.PublicKey,
		Strict:    true,
	})
	assert.ErrorIs(t, err, signature.ErrMissingSignature)

	// Non-strict degrades to an unverified result.
	res, err := s.Download(context.Background(), rec, babelstorage.DownloadOptions{
		PublicKey: &key.PublicKey,
	})
	require.NoError(t, err)
	assert.False(t, res.Verified)
}

func TestVerifyMetadataReport(t *testing.T) {
	oracle := newFakeOracle()
	s := newTestStorage(oracle)
	key := testSigningKey(t)

	rec, err := s.Upload(context.Background(), []byte("verify me"), "v.bin",
		babelstorage.UploadOptions{PrivateKey: key})
	require.NoError(t, err)

	report, err := s.VerifyMetadata(rec, &key.PublicKey, true)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.True(t, report.SignatureChecked)
	assert.True(t, report.SignatureValid)

	// Break an invariant: chunk count no longer matches.
	rec.ChunkCount++
	report, err = s.VerifyMetadata(rec, &key.PublicKey, false)
	require.NoError(t, err)
	assert.False(t, report.OK())

	_, err = s.VerifyMetadata(rec, &key.PublicKey, true)
	assert.ErrorIs(t, err, metadata.ErrSchema)
}

func TestVerifyMetadataBadCoordinate(t *testing.T) {
	oracle := newFakeOracle()
	s := newTestStorage(oracle)

	rec, err := s.Upload(context.Background(), []byte("coords"), "c.bin", babelstorage.UploadOptions{})
	require.NoError(t, err)
	rec.Chunks[0].Coordinate.Wall = 99

	report, err := s.VerifyMetadata(rec, nil, false)
	require.NoError(t, err)
	require.False(t, report.OK())
	assert.Equal(t, 0, report.Problems[0].Index)
}

func TestInfoIsPure(t *testing.T) {
	oracle := newFakeOracle()
	s := newTestStorage(oracle)

	rec, err := s.Upload(context.Background(), []byte("describe me"), "info.bin", babelstorage.UploadOptions{})
	require.NoError(t, err)

	fetchesBefore := oracle.fetchCalls
	first := babelstorage.Info(rec)
	second := babelstorage.Info(rec)

	assert.Equal(t, first, second)
	assert.Equal(t, fetchesBefore, oracle.fetchCalls)
	assert.Contains(t, first, "info.bin")
	assert.Contains(t, first, rec.FileSHA256)
	assert.Contains(t, first, "[000]")
}

func TestUploadPublishesProgress(t *testing.T) {
	tracker := progress.NewTracker()
	s := babelstorage.New(babelstorage.Config{
		Client:   newFakeOracle(),
		Progress: tracker,
	})

	op := tracker.Begin("upload")
	_, err := s.Upload(context.Background(), []byte("tracked"), "p.bin",
		babelstorage.UploadOptions{Operation: op})
	require.NoError(t, err)

	update, ok := tracker.Get(op.ID())
	require.True(t, ok)
	assert.Equal(t, progress.StateCompleted, update.State)
	assert.Equal(t, 100.0, update.Percent)
}

func TestRecordSurvivesEnvelopeRoundTrip(t *testing.T) {
	oracle := newFakeOracle()
	s := newTestStorage(oracle)

	rec, err := s.Upload(context.Background(), pseudoRandom(2500), "env.bin", babelstorage.UploadOptions{})
	require.NoError(t, err)

	raw, err := metadata.EncodeBytes(rec)
	require.NoError(t, err)
	loaded, err := metadata.DecodeBytes(raw, true)
	require.NoError(t, err)

	res, err := s.Download(context.Background(), loaded, babelstorage.DownloadOptions{Strict: true})
	require.NoError(t, err)
	assert.Equal(t, res.Verified, true)
}
