// Package dashboard is the web collaborator: a JSON API over the four
// storage operations plus progress sampling, backed by the local
// record catalog. It adds no semantics of its own; it only invokes the
// orchestrator and publishes what the progress tracker reports.
//
// WARNING: the dashboard has no authentication. Bind it to localhost.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	babelstorage "github.com/Sonael/Babel-Storage"
	"github.com/Sonael/Babel-Storage/pkg/catalog"
	"github.com/Sonael/Babel-Storage/pkg/progress"
)

// DefaultPort is tried first when no preferred port is configured.
const DefaultPort = 8847

// Config for one dashboard instance.
type Config struct {
	// Enabled gates the whole dashboard; Start is a no-op otherwise.
	Enabled bool
	// PreferredPort is tried first; an OS-assigned port is the
	// fallback.
	PreferredPort uint16
	// Store runs the operations. Required.
	Store *babelstorage.Storage
	// Catalog persists uploaded records. Required.
	Catalog *catalog.Catalog
	// Tracker is sampled for the progress endpoints. Required.
	Tracker *progress.Tracker
	// Logger is optional.
	Logger *slog.Logger
}

// Dashboard serves the collaborator API.
type Dashboard struct {
	config Config
	server *http.Server
	mux    *http.ServeMux

	actualPort atomic.Uint32
	doneCh     chan struct{}
}

// New wires the routes. Start must be called before the dashboard
// serves requests.
func New(cfg Config) (*Dashboard, error) {
	if cfg.Store == nil {
		return nil, errors.New("dashboard: store is required")
	}
	if cfg.Catalog == nil {
		return nil, errors.New("dashboard: catalog is required")
	}
	if cfg.Tracker == nil {
		return nil, errors.New("dashboard: tracker is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	d := &Dashboard{
		config: cfg,
		mux:    http.NewServeMux(),
		doneCh: make(chan struct{}),
	}
	d.setupRoutes()
	return d, nil
}

func (d *Dashboard) setupRoutes() {
	d.mux.HandleFunc("/api/upload", d.handleUpload)
	d.mux.HandleFunc("/api/download", d.handleDownload)
	d.mux.HandleFunc("/api/operations/", d.handleOperation)
	d.mux.HandleFunc("/api/operations", d.handleOperations)
	d.mux.HandleFunc("/api/files", d.handleListFiles)
	d.mux.HandleFunc("/api/files/", d.handleFileRoutes)
	d.mux.HandleFunc("/api/estimate", d.handleEstimate)
}

// Start begins serving on the preferred port, falling back to an
// OS-assigned one.
func (d *Dashboard) Start(ctx context.Context) error {
	if !d.config.Enabled {
		return nil
	}

	port, listener, err := d.findAvailablePort()
	if err != nil {
		return fmt.Errorf("dashboard: find port: %w", err)
	}
	d.actualPort.Store(uint32(port))

	d.server = &http.Server{
		Handler:           d.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		d.config.Logger.Info("dashboard started", "address", d.Address())
		if err := d.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.config.Logger.Error("dashboard server error", "error", err)
		}
		close(d.doneCh)
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (d *Dashboard) Stop(ctx context.Context) error {
	if d.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := d.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("dashboard: shutdown: %w", err)
	}
	<-d.doneCh
	return nil
}

// Address returns the listening address, empty before Start.
func (d *Dashboard) Address() string {
	port := d.actualPort.Load()
	if port == 0 {
		return ""
	}
	return fmt.Sprintf("http://localhost:%d", port)
}

// Handler exposes the route mux; tests drive it through httptest.
func (d *Dashboard) Handler() http.Handler { return d.mux }

func (d *Dashboard) findAvailablePort() (uint16, net.Listener, error) {
	preferred := d.config.PreferredPort
	if preferred == 0 {
		preferred = DefaultPort
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", preferred))
	if err == nil {
		return preferred, listener, nil
	}

	listener, err = net.Listen("tcp", "localhost:0")
	if err != nil {
		return 0, nil, fmt.Errorf("listen on any port: %w", err)
	}
	addr := listener.Addr().(*net.TCPAddr)
	return uint16(addr.Port), listener, nil
}
