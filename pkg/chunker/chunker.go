// Package chunker turns a byte stream into integrity-stamped chunks
// sized for the Babel page codec, and reassembles and verifies them on
// the way back. The stream is zstd-compressed before splitting; every
// hash in the record covers the compressed stream.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"

	"github.com/Sonael/Babel-Storage/pkg/babelcodec"
	"github.com/Sonael/Babel-Storage/pkg/metadata"
)

const (
	// PayloadMax bounds every chunk so its envelope fits a page.
	PayloadMax = babelcodec.MaxPayload

	// MaxInputSize is the hard cap on input bytes. Metadata stays a
	// practical size and the oracle is not hammered with six-figure
	// chunk counts.
	MaxInputSize = 128 << 20
)

var (
	// ErrBadInput reports unusable input: nil source or over the cap.
	ErrBadInput = errors.New("chunker: bad input")
	// ErrChunkHashMismatch reports a chunk whose SHA-256 differs from
	// its record entry.
	ErrChunkHashMismatch = errors.New("chunker: chunk sha256 mismatch")
	// ErrChunkLengthMismatch reports a chunk whose length differs from
	// its recorded raw_len.
	ErrChunkLengthMismatch = errors.New("chunker: chunk length mismatch")
	// ErrFileHashMismatch reports a reassembled stream whose SHA-256
	// differs from the record's file_sha256.
	ErrFileHashMismatch = errors.New("chunker: file sha256 mismatch")
)

// ChunkError wraps a failure with the index of the chunk it concerns.
type ChunkError struct {
	Index int
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d: %v", e.Index, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// Chunk is one bounded slice of the compressed stream.
type Chunk struct {
	Index  int
	Data   []byte
	SHA256 string
}

// Shared zstd coders, reinitialized never. Both are safe for
// concurrent use. Level 19 is a protocol constant.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(metadata.CompressionLevel)),
		zstd.WithZeroFrames(true),
	)
	if err != nil {
		panic("chunker: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("chunker: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress applies the protocol compression to input. Empty input is
// legal; zstd of nothing is still a non-empty frame.
func Compress(input []byte) []byte {
	return zstdEncoder.EncodeAll(input, nil)
}

// Decompress reverses Compress.
func Decompress(compressed []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("chunker: zstd decompress: %w", err)
	}
	return out, nil
}

// HashHex returns the lowercase hex SHA-256 of b.
func HashHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Split cuts the compressed stream into consecutive PayloadMax-sized
// chunks, the last possibly shorter, each stamped with its SHA-256. A
// fully empty stream still yields one (empty) chunk so that every
// record has at least one entry; in practice zstd never emits zero
// bytes.
func Split(compressed []byte) []Chunk {
	count := (len(compressed) + PayloadMax - 1) / PayloadMax
	if count == 0 {
		count = 1
	}

	chunks := make([]Chunk, 0, count)
	for i := 0; i < count; i++ {
		start := i * PayloadMax
		end := start + PayloadMax
		if end > len(compressed) {
			end = len(compressed)
		}
		data := compressed[start:end]
		chunks = append(chunks, Chunk{
			Index:  i,
			Data:   data,
			SHA256: HashHex(data),
		})
	}
	return chunks
}

// Warning records a non-fatal integrity anomaly observed during a
// non-strict reassembly. Index is -1 for whole-file anomalies.
type Warning struct {
	Index int
	Err   error
}

// Result is the outcome of Reassemble. Verified is false whenever any
// anomaly was tolerated; callers must treat such data as unverified.
type Result struct {
	Data     []byte
	Verified bool
	Warnings []Warning
}

// Reassemble validates raw chunk payloads against the record, checks
// the whole-stream hash, and decompresses. raw must be in index order
// and complete. In strict mode the first anomaly aborts with a
// ChunkError (or the file-level error); otherwise anomalies degrade to
// warnings and whatever could be assembled is returned unverified — a
// stream too corrupt to decompress yields an empty unverified result.
func Reassemble(raw [][]byte, rec *metadata.FileRecord, strict bool) (*Result, error) {
	if len(raw) != len(rec.Chunks) {
		return nil, fmt.Errorf("%w: have %d chunks, record lists %d", ErrBadInput, len(raw), len(rec.Chunks))
	}

	res := &Result{Verified: true}
	warn := func(index int, err error) error {
		if strict {
			if index < 0 {
				return err
			}
			return &ChunkError{Index: index, Err: err}
		}
		res.Verified = false
		res.Warnings = append(res.Warnings, Warning{Index: index, Err: err})
		return nil
	}

	compressed := make([]byte, 0, rec.CompressedSize)
	for i, data := range raw {
		ref := rec.Chunks[i]
		if len(data) != ref.RawLen {
			err := fmt.Errorf("%w: have %d bytes, record says %d", ErrChunkLengthMismatch, len(data), ref.RawLen)
			if abort := warn(i, err); abort != nil {
				return nil, abort
			}
		}
		if HashHex(data) != ref.SHA256 {
			if abort := warn(i, ErrChunkHashMismatch); abort != nil {
				return nil, abort
			}
		}
		compressed = append(compressed, data...)
	}

	if HashHex(compressed) != rec.FileSHA256 {
		if abort := warn(-1, ErrFileHashMismatch); abort != nil {
			return nil, abort
		}
	}

	data, err := Decompress(compressed)
	if err != nil {
		if abort := warn(-1, err); abort != nil {
			return nil, abort
		}
		// Nothing decompressible could be assembled.
		return res, nil
	}
	res.Data = data
	return res, nil
}

// Estimate is a pre-upload storage projection.
type Estimate struct {
	OriginalSize     int64   `json:"original_size"`
	CompressedSize   int64   `json:"compressed_size"`
	ChunkCount       int     `json:"chunk_count"`
	EncodedSize      int64   `json:"encoded_size"`
	EncodingOverhead float64 `json:"encoding_overhead"`
}

// EstimateStorage compresses input and projects chunk count and
// encoded footprint. It does not touch the network.
func EstimateStorage(input []byte) (*Estimate, error) {
	if int64(len(input)) > MaxInputSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds the %d byte cap", ErrBadInput, len(input), int64(MaxInputSize))
	}
	compressed := Compress(input)
	count := (len(compressed) + PayloadMax - 1) / PayloadMax
	if count == 0 {
		count = 1
	}
	return &Estimate{
		OriginalSize:     int64(len(input)),
		CompressedSize:   int64(len(compressed)),
		ChunkCount:       count,
		EncodedSize:      int64(math.Ceil(float64(len(compressed)) * babelcodec.EncodingOverhead)),
		EncodingOverhead: babelcodec.EncodingOverhead,
	}, nil
}
