// Package babelclient talks to the Library of Babel: it resolves a
// page-text to the coordinate where the library shelves it, and
// fetches a page body back by coordinate. The service is a
// deterministic oracle; the same page-text always resolves to the same
// coordinate.
package babelclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sonael/Babel-Storage/pkg/babelcodec"
	"github.com/Sonael/Babel-Storage/pkg/metadata"
)

// DefaultBaseURL is the public Library of Babel instance.
const DefaultBaseURL = "https://libraryofbabel.info"

const (
	defaultTimeout        = 60 * time.Second
	defaultMaxAttempts    = 5
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 60 * time.Second
	userAgent             = "BabelStorage/5"
)

var (
	// ErrOracleUnavailable reports retry exhaustion against the oracle.
	ErrOracleUnavailable = errors.New("babelclient: oracle unavailable")
	// ErrOracleProtocolError reports a response whose structure does
	// not match the oracle contract.
	ErrOracleProtocolError = errors.New("babelclient: oracle protocol error")
)

// Config tunes one client. The zero value gets usable defaults.
type Config struct {
	// BaseURL of the oracle; DefaultBaseURL if empty.
	BaseURL string
	// Timeout bounds each single HTTP attempt.
	Timeout time.Duration
	// MaxAttempts per logical call, including the first.
	MaxAttempts int
	// InitialBackoff before the second attempt; doubles per attempt up
	// to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// HTTPClient is injectable for tests; a fresh one is built if nil.
	HTTPClient *http.Client
	// Logger is optional.
	Logger *slog.Logger
}

// Client is safe for concurrent use.
type Client struct {
	base           string
	http           *http.Client
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	log            *slog.Logger
}

// New builds a client from cfg, filling in defaults.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		base:           strings.TrimRight(cfg.BaseURL, "/"),
		http:           cfg.HTTPClient,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		log:            cfg.Logger,
	}
}

// Search resolves a full page-text to its coordinate. The input must
// be exactly one page: 3200 symbols, all within the Babel alphabet.
func (c *Client) Search(ctx context.Context, pageText string) (metadata.Coordinate, error) {
	if err := babelcodec.ValidatePage(pageText); err != nil {
		return metadata.Coordinate{}, err
	}

	form := url.Values{"content": {pageText}}
	body, err := c.doRetry(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.base+"/search", strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return metadata.Coordinate{}, err
	}

	coord, err := parseCoordinate(body)
	if err != nil {
		return metadata.Coordinate{}, err
	}
	if err := coord.Validate(); err != nil {
		return metadata.Coordinate{}, fmt.Errorf("%w: coordinate out of domain: %v", ErrOracleProtocolError, err)
	}
	return coord, nil
}

// Fetch retrieves the page body at coord. The returned text is exactly
// 3200 alphabet symbols.
func (c *Client) Fetch(ctx context.Context, coord metadata.Coordinate) (string, error) {
	if err := coord.Validate(); err != nil {
		return "", fmt.Errorf("babelclient: refusing fetch: %w", err)
	}

	query := url.Values{
		"hexagon": {coord.Hexagon},
		"wall":    {strconv.Itoa(coord.Wall)},
		"shelf":   {strconv.Itoa(coord.Shelf)},
		"volume":  {strconv.Itoa(coord.Volume)},
		"page":    {strconv.Itoa(coord.Page)},
	}
	body, err := c.doRetry(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet,
			c.base+"/browse?"+query.Encode(), nil)
	})
	if err != nil {
		return "", err
	}

	text, err := parsePageBody(body)
	if err != nil {
		return "", err
	}
	if err := babelcodec.ValidatePage(text); err != nil {
		return "", fmt.Errorf("%w: %v", ErrOracleProtocolError, err)
	}
	return text, nil
}

// doRetry runs one logical call with bounded retry: transport errors
// and 5xx responses retry with exponential backoff; 4xx responses are
// a contract violation and fail immediately. Exhaustion yields
// ErrOracleUnavailable wrapping the last error.
func (c *Client) doRetry(ctx context.Context, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	var lastErr error
	backoff := c.initialBackoff

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			c.log.Warn("retrying oracle call",
				"attempt", attempt, "backoff", backoff, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.maxBackoff {
				backoff = c.maxBackoff
			}
		}

		req, err := build(ctx)
		if err != nil {
			return nil, fmt.Errorf("babelclient: build request: %w", err)
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("oracle returned %s", resp.Status)
			continue
		case resp.StatusCode >= 400:
			return nil, fmt.Errorf("%w: oracle returned %s", ErrOracleProtocolError, resp.Status)
		case readErr != nil:
			lastErr = readErr
			continue
		}
		return body, nil
	}

	return nil, fmt.Errorf("%w: %d attempts failed, last: %v", ErrOracleUnavailable, c.maxAttempts, lastErr)
}

// Ping checks reachability of the oracle with a single GET against the
// base URL. Used by diagnostics only.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base, nil)
	if err != nil {
		return fmt.Errorf("babelclient: build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: oracle returned %s", ErrOracleUnavailable, resp.Status)
	}
	return nil
}
