// Package metadata defines the persisted Babel Storage record: the
// ordered coordinate list plus integrity material that is the only
// artifact a user must retain to get a file back.
package metadata

import (
	"errors"
	"fmt"
	"math"

	"github.com/Sonael/Babel-Storage/pkg/babelcodec"
)

// ProtocolVersion is the BSP generation written by this code. Versions
// 1-4 are read-compatible.
const ProtocolVersion = 5

// CompressionAlgorithm and CompressionLevel are protocol constants;
// the level is recorded so that a future level change stays decodable.
const (
	CompressionAlgorithm = "zstd"
	CompressionLevel     = 19
)

var (
	// ErrSchema reports a structurally invalid record.
	ErrSchema = errors.New("metadata: schema violation")
	// ErrUnsupportedProtocolVersion reports a protocol_version outside
	// the known set {1..5}.
	ErrUnsupportedProtocolVersion = errors.New("metadata: unsupported protocol version")
)

// Coordinate addresses one page in the Library of Babel. Coordinates
// are opaque: only equality and the round trip through the oracle
// matter.
type Coordinate struct {
	Hexagon string `json:"hexagon"`
	Wall    int    `json:"wall"`
	Shelf   int    `json:"shelf"`
	Volume  int    `json:"volume"`
	Page    int    `json:"page"`
}

// Validate checks the coordinate domains: wall 1-4, shelf 1-5,
// volume 1-32, page 1-410, hexagon non-empty lowercase alphanumeric.
func (c Coordinate) Validate() error {
	if c.Hexagon == "" {
		return fmt.Errorf("%w: empty hexagon", ErrSchema)
	}
	for i := 0; i < len(c.Hexagon); i++ {
		ch := c.Hexagon[i]
		if (ch < 'a' || ch > 'z') && (ch < '0' || ch > '9') {
			return fmt.Errorf("%w: hexagon contains %q", ErrSchema, ch)
		}
	}
	if c.Wall < 1 || c.Wall > 4 {
		return fmt.Errorf("%w: wall %d outside [1,4]", ErrSchema, c.Wall)
	}
	if c.Shelf < 1 || c.Shelf > 5 {
		return fmt.Errorf("%w: shelf %d outside [1,5]", ErrSchema, c.Shelf)
	}
	if c.Volume < 1 || c.Volume > 32 {
		return fmt.Errorf("%w: volume %d outside [1,32]", ErrSchema, c.Volume)
	}
	if c.Page < 1 || c.Page > 410 {
		return fmt.Errorf("%w: page %d outside [1,410]", ErrSchema, c.Page)
	}
	return nil
}

// String renders the coordinate in the oracle's textual form.
func (c Coordinate) String() string {
	return fmt.Sprintf("hexagon:%s,wall:%d,shelf:%d,volume:%d,page:%d",
		c.Hexagon, c.Wall, c.Shelf, c.Volume, c.Page)
}

// Compression records the algorithm applied to the byte stream before
// chunking.
type Compression struct {
	Algorithm string `json:"algorithm"`
	Level     int    `json:"level"`
}

// ChunkRef is one entry of the ordered chunk list.
type ChunkRef struct {
	Index      int        `json:"index"`
	Coordinate Coordinate `json:"coordinate"`
	RawLen     int        `json:"raw_len"`
	SHA256     string     `json:"sha256"`
}

// FileRecord is the persisted artifact. It is born complete at the end
// of an upload and never mutated afterwards.
type FileRecord struct {
	ProtocolVersion int         `json:"protocol_version"`
	OriginalName    string      `json:"original_name"`
	OriginalSize    int64       `json:"original_size"`
	CompressedSize  int64       `json:"compressed_size"`
	Compression     Compression `json:"compression"`
	FileSHA256      string      `json:"file_sha256"`
	ChunkCount      int         `json:"chunk_count"`
	Chunks          []ChunkRef  `json:"chunks"`
	Encoding        string      `json:"encoding"`

	Signature            string `json:"signature,omitempty"`
	PublicKeyFingerprint string `json:"public_key_fingerprint,omitempty"`
}

// KnownProtocolVersion reports whether v is a readable BSP generation.
func KnownProtocolVersion(v int) bool {
	return v >= 1 && v <= ProtocolVersion
}

// ValidateStructure checks the offline invariants of a record: the
// version gate, sequential chunk indexes without gaps, raw lengths
// summing to the compressed size, and a chunk count consistent with
// the payload ceiling. The chunk-count arithmetic is only enforced for
// v5 records; earlier generations used different payload ceilings.
func (r *FileRecord) ValidateStructure() error {
	if !KnownProtocolVersion(r.ProtocolVersion) {
		return fmt.Errorf("%w: %d", ErrUnsupportedProtocolVersion, r.ProtocolVersion)
	}
	if r.OriginalSize < 0 || r.CompressedSize < 0 {
		return fmt.Errorf("%w: negative size", ErrSchema)
	}
	if r.ChunkCount < 1 {
		return fmt.Errorf("%w: chunk_count %d, want >= 1", ErrSchema, r.ChunkCount)
	}
	if r.ChunkCount != len(r.Chunks) {
		return fmt.Errorf("%w: chunk_count %d but %d chunks", ErrSchema, r.ChunkCount, len(r.Chunks))
	}

	var total int64
	for i, chunk := range r.Chunks {
		if chunk.Index != i {
			return fmt.Errorf("%w: chunk at position %d has index %d", ErrSchema, i, chunk.Index)
		}
		if chunk.RawLen < 0 {
			return fmt.Errorf("%w: chunk %d has negative raw_len", ErrSchema, i)
		}
		if len(chunk.SHA256) != 64 {
			return fmt.Errorf("%w: chunk %d sha256 is not a hex digest", ErrSchema, i)
		}
		total += int64(chunk.RawLen)
	}
	if total != r.CompressedSize {
		return fmt.Errorf("%w: raw lengths sum to %d, compressed_size is %d", ErrSchema, total, r.CompressedSize)
	}

	if r.ProtocolVersion == ProtocolVersion {
		expected := int(math.Ceil(float64(r.CompressedSize) / float64(babelcodec.MaxPayload)))
		if expected == 0 {
			expected = 1
		}
		if r.ChunkCount != expected {
			return fmt.Errorf("%w: %d chunks for %d compressed bytes, want %d",
				ErrSchema, r.ChunkCount, r.CompressedSize, expected)
		}
	}

	if len(r.FileSHA256) != 64 {
		return fmt.Errorf("%w: file_sha256 is not a hex digest", ErrSchema)
	}
	return nil
}
