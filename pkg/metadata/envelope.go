package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// FileExtension is the suggested extension for persisted records.
const FileExtension = ".json.gz"

// Encode writes the record as gzipped compact JSON, the only persisted
// form. No framing beyond gzip's own.
func Encode(w io.Writer, rec *FileRecord) error {
	gz := gzip.NewWriter(w)

	enc := json.NewEncoder(gz)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		gz.Close()
		return fmt.Errorf("metadata: encode record: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("metadata: close gzip stream: %w", err)
	}
	return nil
}

// Decode reads a gzipped JSON record. The protocol version gate always
// applies; strict additionally rejects unknown top-level fields.
func Decode(r io.Reader, strict bool) (*FileRecord, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: not a gzip stream: %v", ErrSchema, err)
	}
	defer gz.Close()

	dec := json.NewDecoder(gz)
	if strict {
		dec.DisallowUnknownFields()
	}

	var rec FileRecord
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if !KnownProtocolVersion(rec.ProtocolVersion) {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedProtocolVersion, rec.ProtocolVersion)
	}
	return &rec, nil
}

// EncodeBytes is Encode into a fresh buffer.
func EncodeBytes(rec *FileRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeBytes is Decode from a byte slice.
func DecodeBytes(b []byte, strict bool) (*FileRecord, error) {
	return Decode(bytes.NewReader(b), strict)
}

// WriteFile persists the record at path.
func WriteFile(path string, rec *FileRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("metadata: create %s: %w", path, err)
	}
	if err := Encode(f, rec); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("metadata: close %s: %w", path, err)
	}
	return nil
}

// ReadFile loads a record from path. If path does not exist but
// path + ".gz" does, the suffixed variant is read instead, matching
// how records were historically saved.
func ReadFile(path string, strict bool) (*FileRecord, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		if alt, altErr := os.Open(path + ".gz"); altErr == nil {
			f, err = alt, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("metadata: open %s: %w", path, err)
	}
	defer f.Close()
	return Decode(f, strict)
}
