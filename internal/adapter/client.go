// Package adapter connects to shop-floor SHDR adapters over TCP, frames
// newline-terminated lines, and feeds them to the agent's ingest
// handler. Connections are retried forever with exponential backoff;
// liveness uses the adapter PING/PONG convention.
package adapter

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Handler receives every data line read from an adapter, tagged with the
// device it is configured for.
type Handler interface {
	HandleLine(ctx context.Context, device, raw string)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, device, raw string)

func (f HandlerFunc) HandleLine(ctx context.Context, device, raw string) {
	f(ctx, device, raw)
}

// Client maintains one adapter connection.
type Client struct {
	addr      string
	device    string
	heartbeat time.Duration
	handler   Handler
	log       *zap.Logger

	// dial is swappable for tests.
	dial func(ctx context.Context, addr string) (net.Conn, error)
}

// New creates a client for one configured adapter.
func New(addr, device string, heartbeat time.Duration, handler Handler, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		addr:      addr,
		device:    device,
		heartbeat: heartbeat,
		handler:   handler,
		log:       log,
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		},
	}
}

// Run connects and reads until ctx is cancelled. Every disconnect or
// dial failure restarts the exponential backoff cycle; a successful
// session resets it.
func (c *Client) Run(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0 // retry forever
	policy.MaxInterval = time.Minute

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := c.dial(ctx, c.addr)
		if err != nil {
			wait := policy.NextBackOff()
			c.log.Warn("adapter dial failed",
				zap.String("addr", c.addr),
				zap.Duration("retry_in", wait),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}

		c.log.Info("adapter connected",
			zap.String("addr", c.addr),
			zap.String("device", c.device))
		policy.Reset()

		err = c.session(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("adapter disconnected",
			zap.String("addr", c.addr),
			zap.Error(err))
	}
}

// session reads lines until the connection breaks. PONG responses are
// consumed here; everything else goes to the handler.
func (c *Client) session(ctx context.Context, conn net.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.SetReadDeadline(time.Now()) // unblock the reader
		case <-done:
		}
	}()

	var stopPing func()
	if c.heartbeat > 0 {
		stopPing = c.startPing(conn)
		defer stopPing()
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := scanner.Text()
		if strings.HasPrefix(raw, "* PONG") {
			c.extendDeadline(conn)
			continue
		}
		c.handler.HandleLine(ctx, c.device, raw)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", c.addr, err)
	}
	return fmt.Errorf("adapter %s closed the connection", c.addr)
}

// startPing sends "* PING" on the heartbeat interval and arms the read
// deadline; a missed PONG trips the deadline and drops the session.
func (c *Client) startPing(conn net.Conn) func() {
	c.extendDeadline(conn)
	ticker := time.NewTicker(c.heartbeat)
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if _, err := fmt.Fprint(conn, "* PING\n"); err != nil {
					return
				}
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(stop)
	}
}

func (c *Client) extendDeadline(conn net.Conn) {
	if c.heartbeat > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(2 * c.heartbeat))
	}
}
