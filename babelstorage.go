// Package babelstorage stores files as coordinates into the Library
// of Babel. A file is compressed, split into page-sized chunks, each
// chunk is encoded as a 3200-symbol page and resolved to the
// coordinate where the library shelves it; the ordered coordinate list
// plus integrity material is the only artifact the user keeps.
//
// The Storage type wires the codec, chunker, signature layer and
// oracle client into the four operations: Upload, Download,
// VerifyMetadata and Info.
package babelstorage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Sonael/Babel-Storage/pkg/babelclient"
	"github.com/Sonael/Babel-Storage/pkg/chunker"
	"github.com/Sonael/Babel-Storage/pkg/logging"
	"github.com/Sonael/Babel-Storage/pkg/metadata"
	"github.com/Sonael/Babel-Storage/pkg/progress"
)

// DefaultConcurrency bounds parallel oracle calls per operation. Kept
// small to respect the external service.
const DefaultConcurrency = 4

// ErrCancelled reports an operation stopped by its context.
var ErrCancelled = errors.New("babelstorage: operation cancelled")

// OracleClient is the coordinate service contract the orchestrator
// needs. *babelclient.Client satisfies it; tests substitute fakes.
type OracleClient interface {
	Search(ctx context.Context, pageText string) (metadata.Coordinate, error)
	Fetch(ctx context.Context, coord metadata.Coordinate) (string, error)
}

// Config configures one Storage instance.
type Config struct {
	// OracleBaseURL overrides the public Library of Babel endpoint.
	OracleBaseURL string
	// OracleTimeout bounds each single oracle HTTP attempt.
	OracleTimeout time.Duration
	// OracleMaxAttempts per oracle call.
	OracleMaxAttempts int

	// Concurrency bounds parallel oracle calls; DefaultConcurrency if
	// zero.
	Concurrency int

	// DisableUploadReadback skips fetching each page back after search
	// to confirm the oracle shelved it intact.
	DisableUploadReadback bool

	// MaxInputSize caps upload input; chunker.MaxInputSize if zero.
	MaxInputSize int64

	// Logger is optional; a stderr logger is used when nil.
	Logger *slog.Logger
	// Progress is optional; nil disables progress publication.
	Progress *progress.Tracker
	// Client is an optional oracle client injection.
	Client OracleClient
}

// Storage is the orchestrator handle. It holds no mutable state of
// its own and is safe for concurrent operations.
type Storage struct {
	config  Config
	client  OracleClient
	log     *slog.Logger
	tracker *progress.Tracker
}

// New builds a Storage from cfg, filling in defaults.
func New(cfg Config) *Storage {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.MaxInputSize <= 0 {
		cfg.MaxInputSize = chunker.MaxInputSize
	}
	client := cfg.Client
	if client == nil {
		client = babelclient.New(babelclient.Config{
			BaseURL:     cfg.OracleBaseURL,
			Timeout:     cfg.OracleTimeout,
			MaxAttempts: cfg.OracleMaxAttempts,
			Logger:      cfg.Logger,
		})
	}
	return &Storage{
		config:  cfg,
		client:  client,
		log:     cfg.Logger,
		tracker: cfg.Progress,
	}
}

// Progress returns the tracker operations publish into; nil when
// progress is disabled.
func (s *Storage) Progress() *progress.Tracker { return s.tracker }

// cancelErr maps context termination onto ErrCancelled so callers can
// distinguish a user stop from a failure.
func cancelErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return err
}
