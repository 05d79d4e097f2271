package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// CanonicalBytes renders the record as the unique JSON byte sequence
// used as signature input: the signature field removed, keys sorted
// lexicographically at every level, no insignificant whitespace,
// integers as decimal literals, minimal string escaping. Two logically
// equal records always produce identical canonical bytes.
func CanonicalBytes(rec *FileRecord) ([]byte, error) {
	plain, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("metadata: canonicalize: %w", err)
	}

	// Round-trip through a generic tree so that key order is under our
	// control. json.Number keeps numeric literals byte-exact.
	dec := json.NewDecoder(bytes.NewReader(plain))
	dec.UseNumber()
	var tree map[string]any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("metadata: canonicalize: %w", err)
	}
	delete(tree, "signature")

	var buf bytes.Buffer
	if err := writeCanonical(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch value := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(value))
		for k := range value {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, value[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case []any:
		buf.WriteByte('[')
		for i, item := range value {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	case json.Number:
		buf.WriteString(value.String())
		return nil

	default:
		// Strings, booleans, null. Minimal escaping: no HTML escapes.
		var elem bytes.Buffer
		enc := json.NewEncoder(&elem)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(value); err != nil {
			return fmt.Errorf("metadata: canonicalize: %w", err)
		}
		buf.Write(bytes.TrimRight(elem.Bytes(), "\n"))
		return nil
	}
}
