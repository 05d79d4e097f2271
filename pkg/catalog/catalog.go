// Package catalog keeps a local index of uploaded records. Losing the
// metadata blob loses the file, so the catalog stores every record a
// node has produced, keyed by a stable id, for the web UI and the CLI
// to list and re-export. Backing store is Badger.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/shirou/gopsutil/disk"

	"github.com/Sonael/Babel-Storage/pkg/metadata"
)

var (
	// ErrNotFound reports an unknown record id.
	ErrNotFound = errors.New("catalog: record not found")
	// ErrLowDiskSpace reports free space under the configured floor.
	ErrLowDiskSpace = errors.New("catalog: free disk space below minimum")
)

var (
	recordPrefix = []byte("record:")
	entryPrefix  = []byte("entry:")
)

// Config for opening a catalog.
type Config struct {
	// Path is the Badger directory.
	Path string
	// MinimumFreeGB refuses writes when the volume holding Path has
	// less free space. Zero disables the check.
	MinimumFreeGB uint
	// Logger is optional.
	Logger *slog.Logger
}

// Catalog is safe for concurrent use; Badger handles the locking.
type Catalog struct {
	db     *badger.DB
	config Config
	log    *slog.Logger
}

// Entry is the listing row for one stored record.
type Entry struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"original_name"`
	OriginalSize int64     `json:"original_size"`
	ChunkCount   int       `json:"chunk_count"`
	FileSHA256   string    `json:"file_sha256"`
	Signed       bool      `json:"signed"`
	StoredAt     time.Time `json:"stored_at"`
}

// Open initializes the catalog at cfg.Path, creating it if needed.
func Open(cfg Config) (*Catalog, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
		return nil, fmt.Errorf("catalog: mkdir %s: %w", cfg.Path, err)
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("catalog: open badger at %s: %w", cfg.Path, err)
	}

	c := &Catalog{db: db, config: cfg, log: cfg.Logger}
	if free, err := c.freeSpaceGB(); err == nil {
		c.log.Info("catalog opened", "path", cfg.Path, "freeGB", fmt.Sprintf("%.1f", free))
	}
	return c, nil
}

// Put stores a record under id. The record bytes are the persisted
// gzipped-JSON envelope, so a catalog export is byte-identical to a
// metadata file.
func (c *Catalog) Put(id string, rec *metadata.FileRecord) error {
	if err := c.checkFreeSpace(); err != nil {
		return err
	}

	blob, err := metadata.EncodeBytes(rec)
	if err != nil {
		return err
	}
	entry, err := json.Marshal(Entry{
		ID:           id,
		OriginalName: rec.OriginalName,
		OriginalSize: rec.OriginalSize,
		ChunkCount:   rec.ChunkCount,
		FileSHA256:   rec.FileSHA256,
		Signed:       rec.Signature != "",
		StoredAt:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("catalog: marshal entry: %w", err)
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(append(recordPrefix, id...), blob); err != nil {
			return err
		}
		return txn.Set(append(entryPrefix, id...), entry)
	})
	if err != nil {
		return fmt.Errorf("catalog: store %s: %w", id, err)
	}
	return nil
}

// Get loads the record stored under id.
func (c *Catalog) Get(id string) (*metadata.FileRecord, error) {
	blob, err := c.GetRaw(id)
	if err != nil {
		return nil, err
	}
	return metadata.DecodeBytes(blob, false)
}

// GetRaw returns the persisted envelope bytes for id, suitable for
// writing straight to a metadata file.
func (c *Catalog) GetRaw(id string) ([]byte, error) {
	var blob []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(append(recordPrefix, id...))
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: load %s: %w", id, err)
	}
	return blob, nil
}

// List returns all entries, most recent first.
func (c *Catalog) List() ([]Entry, error) {
	var entries []Entry
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = entryPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				var entry Entry
				if err := json.Unmarshal(value, &entry); err != nil {
					return err
				}
				entries = append(entries, entry)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].StoredAt.After(entries[j].StoredAt)
	})
	return entries, nil
}

// Delete removes a record and its listing entry.
func (c *Catalog) Delete(id string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(append(recordPrefix, id...)); err != nil {
			return err
		}
		return txn.Delete(append(entryPrefix, id...))
	})
	if err != nil {
		return fmt.Errorf("catalog: delete %s: %w", id, err)
	}
	return nil
}

// Close releases the Badger handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}

func (c *Catalog) freeSpaceGB() (float64, error) {
	usage, err := disk.Usage(c.config.Path)
	if err != nil {
		return 0, err
	}
	return float64(usage.Free) / 1e9, nil
}

func (c *Catalog) checkFreeSpace() error {
	if c.config.MinimumFreeGB == 0 {
		return nil
	}
	free, err := c.freeSpaceGB()
	if err != nil {
		// A failing probe must not block writes.
		c.log.Warn("free space probe failed", "path", c.config.Path, "error", err)
		return nil
	}
	if free < float64(c.config.MinimumFreeGB) {
		return fmt.Errorf("%w: %.1f GB free, need %d GB", ErrLowDiskSpace, free, c.config.MinimumFreeGB)
	}
	return nil
}
