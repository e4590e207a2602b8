// Package clock provides the process-wide NTP-corrected clock.
//
// Every envelope is stamped with Clock.Now so timestamps produced by the
// server and by remote clients can be compared when a barge-in happens.
// Timestamps are float64 seconds since the Unix epoch, the same
// representation the wire codec carries in its TIM chunk.
package clock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/beevik/ntp"
)

// Defaults for Sync.
const (
	DefaultServer  = "pool.ntp.org"
	DefaultRetries = 10
	DefaultTimeout = 2 * time.Second

	// MaxRTT is the slowest round trip accepted as a reference.
	MaxRTT = 250 * time.Millisecond

	// Tolerance absorbs skew between clocks when comparing timestamps.
	Tolerance = 0.25
)

// ErrUnsynced is returned by Sync when every attempt failed.
// The clock keeps running on local time.
var ErrUnsynced = errors.New("clock: could not synchronize with NTP server")

// QueryFunc asks a time server for the local clock offset and round trip.
type QueryFunc func(server string, timeout time.Duration) (offset, rtt time.Duration, err error)

// Clock is an NTP-corrected wall clock. The zero value is not usable; call New.
type Clock struct {
	offset  atomic.Int64
	server  string
	retries int
	timeout time.Duration
	backoff time.Duration
	query   QueryFunc
	sleep   func(context.Context, time.Duration) error
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Clock.
type Option func(*Clock)

// WithServer sets the NTP server host.
func WithServer(server string) Option {
	return func(c *Clock) { c.server = server }
}

// WithRetries sets how many extra attempts Sync makes.
func WithRetries(n int) Option {
	return func(c *Clock) { c.retries = n }
}

// WithTimeout sets the per-query timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Clock) { c.timeout = d }
}

// WithBackoff sets the initial delay between attempts. It doubles per retry.
func WithBackoff(d time.Duration) Option {
	return func(c *Clock) { c.backoff = d }
}

// WithQuery replaces the NTP query. Used in tests.
func WithQuery(q QueryFunc) Option {
	return func(c *Clock) { c.query = q }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Clock) { c.logger = l }
}

// WithNow replaces the local time source. Used in tests.
func WithNow(now func() time.Time) Option {
	return func(c *Clock) { c.now = now }
}

// New creates a clock running on local time until Sync succeeds.
func New(opts ...Option) *Clock {
	c := &Clock{
		server:  DefaultServer,
		retries: DefaultRetries,
		timeout: DefaultTimeout,
		backoff: 100 * time.Millisecond,
		query:   queryNTP,
		sleep:   sleepCtx,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "clock")
	return c
}

// Sync measures the offset against the NTP server.
//
// A query slower than MaxRTT is discarded and retried. After the retries are
// exhausted the clock stays on local time and ErrUnsynced is returned; callers
// are expected to log it and carry on.
func (c *Clock) Sync(ctx context.Context) error {
	delay := c.backoff
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
			if delay < 2*time.Second {
				delay *= 2
			}
		}

		offset, rtt, err := c.query(c.server, c.timeout)
		if err != nil {
			c.logger.Warn("ntp query failed", "attempt", attempt+1, "retries", c.retries, "error", err)
			continue
		}
		if rtt > MaxRTT {
			c.logger.Warn("ntp response too slow, retrying", "rtt", rtt)
			continue
		}

		c.offset.Store(int64(offset))
		c.logger.Info("clock synchronized", "server", c.server, "offset", offset, "rtt", rtt)
		return nil
	}

	c.logger.Warn("falling back to local clock, expect desync between peers", "server", c.server)
	return fmt.Errorf("%w: %s", ErrUnsynced, c.server)
}

// Offset returns the correction applied to local time.
func (c *Clock) Offset() time.Duration {
	return time.Duration(c.offset.Load())
}

// Time returns the corrected current time.
func (c *Clock) Time() time.Time {
	return c.now().Add(c.Offset())
}

// Now returns the corrected time as seconds since the Unix epoch.
func (c *Clock) Now() float64 {
	return Seconds(c.Time())
}

// Seconds converts t to float seconds since the Unix epoch.
func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Gt reports whether ts is later than ref, allowing Tolerance of skew.
// It is false only when ts lies Tolerance seconds or more before ref.
func Gt(ts, ref float64) bool {
	return ts-ref > -Tolerance
}

func queryNTP(server string, timeout time.Duration) (time.Duration, time.Duration, error) {
	resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return 0, 0, err
	}
	if err := resp.Validate(); err != nil {
		return 0, 0, err
	}
	return resp.ClockOffset, resp.RTT, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
