package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/muurk/miiobridge/internal/logging"
	"github.com/muurk/miiobridge/internal/miio"
)

const (
	// DefaultInterval is the steady-state poll cadence.
	DefaultInterval = 15 * time.Second

	// DefaultTimeout bounds one poll attempt.
	DefaultTimeout = 10 * time.Second

	// DefaultMaxFailures is how many consecutive failed polls a device
	// gets before it is reported unavailable. A single lost datagram
	// must not flap availability.
	DefaultMaxFailures = 3

	// subscriberBuffer is the per-subscriber channel depth. A slow
	// subscriber loses intermediate updates rather than stalling polls.
	subscriberBuffer = 8
)

// StatusFetcher is the device operation a coordinator drives.
type StatusFetcher interface {
	Status(ctx context.Context) (miio.Status, error)
}

// Update is what subscribers receive after every poll cycle.
type Update struct {
	DeviceID  string
	Status    miio.Status // last known snapshot, survives failed polls
	Available bool
	Duration  time.Duration // how long the poll took
	Err       error         // nil on success
}

// Config carries the poll tuning knobs. Zero values take defaults.
type Config struct {
	Interval    time.Duration
	Timeout     time.Duration
	MaxFailures int
}

// Coordinator polls one device on a fixed cadence and fans the results
// out to subscribers. It owns the availability state machine: a device
// becomes unavailable after MaxFailures consecutive failed polls and
// recovers on the first success. The last good snapshot is retained
// across failures so consumers can keep rendering state while the
// device is flaky.
type Coordinator struct {
	deviceID string
	model    string
	fetcher  StatusFetcher

	interval    time.Duration
	timeout     time.Duration
	maxFailures int

	refreshCh chan struct{}

	mu          sync.Mutex
	failures    int
	available   bool
	last        miio.Status
	lastErr     error
	subscribers map[int]chan Update
	nextSubID   int
}

// New creates a coordinator for one device.
func New(deviceID, model string, fetcher StatusFetcher, cfg Config) *Coordinator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	return &Coordinator{
		deviceID:    deviceID,
		model:       model,
		fetcher:     fetcher,
		interval:    cfg.Interval,
		timeout:     cfg.Timeout,
		maxFailures: cfg.MaxFailures,
		refreshCh:   make(chan struct{}, 1),
		subscribers: make(map[int]chan Update),
	}
}

// DeviceID returns the device this coordinator polls.
func (c *Coordinator) DeviceID() string {
	return c.deviceID
}

// Model returns the device model.
func (c *Coordinator) Model() string {
	return c.model
}

// Run polls until the context is cancelled. The first poll happens
// immediately so consumers do not wait a full interval for state.
func (c *Coordinator) Run(ctx context.Context) {
	c.RefreshNow(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RefreshNow(ctx)
		case <-c.refreshCh:
			c.RefreshNow(ctx)
			ticker.Reset(c.interval)
		}
	}
}

// ForceRefresh requests an immediate poll from the Run loop. Command
// paths call this after a write so the new state propagates without
// waiting for the next tick. It never blocks; a refresh already pending
// is enough.
func (c *Coordinator) ForceRefresh() {
	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}

// RefreshNow performs one poll cycle synchronously and publishes the
// outcome to subscribers.
func (c *Coordinator) RefreshNow(ctx context.Context) {
	start := time.Now()
	status, err := c.poll(ctx)
	duration := time.Since(start)
	logging.LogPoll(c.deviceID, c.model, duration, err)

	c.mu.Lock()
	wasAvailable := c.available
	c.lastErr = err

	if err == nil {
		c.failures = 0
		c.available = true
		c.last = status
	} else {
		c.failures++
		if c.failures >= c.maxFailures {
			c.available = false
		}
	}

	update := Update{
		DeviceID:  c.deviceID,
		Status:    c.last.Clone(),
		Available: c.available,
		Duration:  duration,
		Err:       err,
	}
	available := c.available
	failures := c.failures
	subs := make([]chan Update, 0, len(c.subscribers))
	for _, ch := range c.subscribers {
		subs = append(subs, ch)
	}
	c.mu.Unlock()

	if available != wasAvailable {
		logging.LogAvailability(c.deviceID, available, failures)
	}

	for _, ch := range subs {
		select {
		case ch <- update:
		default:
			// Subscriber is behind; it will catch up on the next update.
		}
	}
}

// poll runs one status fetch with the configured timeout, retrying once
// when the device answers with a transient error code.
func (c *Coordinator) poll(ctx context.Context) (miio.Status, error) {
	attempt := func() (miio.Status, error) {
		pollCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return c.fetcher.Status(pollCtx)
	}

	status, err := attempt()
	if err != nil && miio.IsTransient(err) && ctx.Err() == nil {
		status, err = attempt()
	}
	// An empty snapshot means the device answered nothing useful. It must
	// count against the failure budget like any other failed cycle.
	if err == nil && len(status) == 0 {
		err = fmt.Errorf("device returned an empty status")
	}
	return status, err
}

// Subscribe registers for poll updates. The returned cancel function
// unregisters and closes the channel.
func (c *Coordinator) Subscribe() (<-chan Update, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSubID
	c.nextSubID++
	ch := make(chan Update, subscriberBuffer)
	c.subscribers[id] = ch

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subscribers[id]; ok {
			delete(c.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Status returns the last known snapshot and current availability.
// The snapshot may be stale when the device is unavailable.
func (c *Coordinator) Status() (miio.Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last.Clone(), c.available
}

// Available reports current availability.
func (c *Coordinator) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.available
}

// LastError returns the error of the most recent poll, nil on success.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}
