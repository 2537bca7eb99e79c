package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/gray-logic-dobiss/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	// Batching used when the config leaves them unset. Bus counters arrive
	// once per health interval and command points are sparse, so small
	// batches flushed every few seconds keep dashboards current.
	fallbackBatchSize     = 100
	fallbackFlushInterval = 10 * time.Second
)

// Stats counts points handed to the write API and errors it reported back.
type Stats struct {
	PointsQueued  uint64
	PointsSkipped uint64 // empty or written after Close
	WriteErrors   uint64
}

// Client is the bridge's time-series sink. It implements dobiss.PointWriter.
//
// Writes never block the driver: points are queued on the client's batching
// write API and failures surface through the SetOnError callback.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	mu      sync.RWMutex
	closed  bool
	onError func(err error)

	queued  atomic.Uint64
	skipped atomic.Uint64
	failed  atomic.Uint64
}

// Connect pings the configured server and opens a batching write API for
// the configured org and bucket.
//
// Returns ErrDisabled when cfg.Enabled is false and wraps
// ErrConnectionFailed when the server is unreachable or unhealthy.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token.Value(), clientOptions(cfg))
	if err := ping(client); err != nil {
		client.Close()
		return nil, err
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
	}
	go c.forwardErrors(c.writeAPI.Errors())

	return c, nil
}

// clientOptions maps the batch settings onto the client library's options.
func clientOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(fallbackBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := fallbackFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}

	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds()))
}

func ping(client influxdb2.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	switch {
	case err != nil:
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	case !healthy:
		return fmt.Errorf("%w: server reports unhealthy", ErrConnectionFailed)
	}
	return nil
}

// forwardErrors runs until the write API closes its error channel on Close.
func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		c.failed.Add(1)

		c.mu.RLock()
		fn := c.onError
		c.mu.RUnlock()
		if fn != nil {
			fn(err)
		}
	}
}

// SetOnError installs the callback for asynchronous write failures.
func (c *Client) SetOnError(fn func(err error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// Stats returns the write counters since Connect.
func (c *Client) Stats() Stats {
	return Stats{
		PointsQueued:  c.queued.Load(),
		PointsSkipped: c.skipped.Load(),
		WriteErrors:   c.failed.Load(),
	}
}

// IsConnected reports whether the client still accepts points. It does not
// contact the server; use HealthCheck for that.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influxdb ping: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb ping: server reports unhealthy")
	}
	return nil
}

// Flush writes any batched points now. It does nothing after Close.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writeAPI.Flush()
	}
}

// Close stops accepting points, flushes what is batched and releases the
// HTTP client. Calling it twice is safe.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writeAPI.Flush()
	c.client.Close()
	return nil
}
