package babelstorage

import (
	"fmt"
	"strings"

	"github.com/Sonael/Babel-Storage/pkg/metadata"
)

// Info renders a human-readable record summary with the coordinate of
// every chunk. Pure: no network, no crypto, no side effects.
func Info(rec *metadata.FileRecord) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "File:            %s\n", rec.OriginalName)
	fmt.Fprintf(&sb, "Protocol:        BSP v%d (%s)\n", rec.ProtocolVersion, rec.Encoding)
	fmt.Fprintf(&sb, "Original size:   %s\n", formatSize(rec.OriginalSize))
	fmt.Fprintf(&sb, "Compressed size: %s (%s level %d)\n",
		formatSize(rec.CompressedSize), rec.Compression.Algorithm, rec.Compression.Level)
	fmt.Fprintf(&sb, "File SHA-256:    %s\n", rec.FileSHA256)
	fmt.Fprintf(&sb, "Chunks:          %d\n", rec.ChunkCount)
	if rec.Signature != "" {
		fmt.Fprintf(&sb, "Signed:          yes (key %s)\n", shorten(rec.PublicKeyFingerprint, 16))
	} else {
		sb.WriteString("Signed:          no\n")
	}

	sb.WriteString("\n")
	for _, ref := range rec.Chunks {
		fmt.Fprintf(&sb, "[%03d] %6d bytes | %s... | %s/%d/%d/%d/%d\n",
			ref.Index,
			ref.RawLen,
			shorten(ref.SHA256, 12),
			shorten(ref.Coordinate.Hexagon, 8),
			ref.Coordinate.Wall,
			ref.Coordinate.Shelf,
			ref.Coordinate.Volume,
			ref.Coordinate.Page)
	}
	return sb.String()
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	value, exp := float64(n), 0
	for value >= unit && exp < 3 {
		value /= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB (%d bytes)", value, "KMG"[exp-1], n)
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
