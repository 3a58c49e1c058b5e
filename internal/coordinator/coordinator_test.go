package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/muurk/miiobridge/internal/miio"
)

// scriptedFetcher returns canned results in sequence, repeating the last
// one when the script runs out.
type scriptedFetcher struct {
	mu     sync.Mutex
	script []fetchResult
	calls  int
}

type fetchResult struct {
	status miio.Status
	err    error
}

func (f *scriptedFetcher) Status(_ context.Context) (miio.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	f.calls++
	r := f.script[i]
	return r.status, r.err
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func transientErr() error {
	return &miio.DeviceError{Type: miio.ErrTypeDevice, Code: -9999, Retryable: true, Message: "user ack timeout"}
}

func TestRefreshNowSuccess(t *testing.T) {
	fetcher := &scriptedFetcher{script: []fetchResult{
		{status: miio.Status{"on": true}},
	}}
	c := New("120009025", "zhimi.airpurifier.mb3", fetcher, Config{})

	c.RefreshNow(context.Background())

	status, available := c.Status()
	if !available {
		t.Error("device should be available after a successful poll")
	}
	if on, _ := status.Bool("on"); !on {
		t.Errorf("status = %v", status)
	}
	if c.LastError() != nil {
		t.Errorf("LastError() = %v", c.LastError())
	}
}

func TestRefreshNowRetriesTransient(t *testing.T) {
	fetcher := &scriptedFetcher{script: []fetchResult{
		{err: transientErr()},
		{status: miio.Status{"on": false}},
	}}
	c := New("1", "m", fetcher, Config{})

	c.RefreshNow(context.Background())

	if fetcher.callCount() != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", fetcher.callCount())
	}
	if !c.Available() {
		t.Error("retry succeeded, device should be available")
	}
}

func TestRefreshNowRetriesOnlyOnce(t *testing.T) {
	fetcher := &scriptedFetcher{script: []fetchResult{
		{err: transientErr()},
	}}
	c := New("1", "m", fetcher, Config{})

	c.RefreshNow(context.Background())

	if fetcher.callCount() != 2 {
		t.Errorf("calls = %d, want exactly 2", fetcher.callCount())
	}
	if c.LastError() == nil {
		t.Error("poll should have failed after the retry")
	}
}

func TestNoRetryForNonTransient(t *testing.T) {
	fetcher := &scriptedFetcher{script: []fetchResult{
		{err: &miio.DeviceError{Type: miio.ErrTypeTimeout, Retryable: true}},
	}}
	c := New("1", "m", fetcher, Config{})

	c.RefreshNow(context.Background())

	if fetcher.callCount() != 1 {
		t.Errorf("calls = %d, timeouts must not retry within a cycle", fetcher.callCount())
	}
}

func TestEmptyStatusIsAFailure(t *testing.T) {
	fetcher := &scriptedFetcher{script: []fetchResult{
		{status: nil},
	}}
	c := New("1", "m", fetcher, Config{MaxFailures: 1})

	c.RefreshNow(context.Background())

	if c.LastError() == nil {
		t.Error("an empty snapshot must not count as a successful poll")
	}
	if c.Available() {
		t.Error("empty snapshots should spend the failure budget")
	}
}

func TestAvailabilityBudget(t *testing.T) {
	fetcher := &scriptedFetcher{script: []fetchResult{
		{status: miio.Status{"on": true}},
		{err: errors.New("poll failed")},
	}}
	c := New("1", "m", fetcher, Config{MaxFailures: 3})
	ctx := context.Background()

	c.RefreshNow(ctx)
	if !c.Available() {
		t.Fatal("available after first success")
	}

	// Two failures stay within budget.
	c.RefreshNow(ctx)
	c.RefreshNow(ctx)
	if !c.Available() {
		t.Error("two failures must not exhaust the budget")
	}

	// Third consecutive failure exhausts it.
	c.RefreshNow(ctx)
	if c.Available() {
		t.Error("three consecutive failures should mark the device unavailable")
	}

	// The last good snapshot is retained.
	status, _ := c.Status()
	if on, ok := status.Bool("on"); !ok || !on {
		t.Errorf("last-known status lost: %v", status)
	}
}

func TestRecoveryResetsFailures(t *testing.T) {
	fetcher := &scriptedFetcher{script: []fetchResult{
		{err: errors.New("down")},
		{err: errors.New("down")},
		{err: errors.New("down")},
		{status: miio.Status{"on": true}},
		{err: errors.New("down")},
	}}
	c := New("1", "m", fetcher, Config{MaxFailures: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c.RefreshNow(ctx)
	}
	if c.Available() {
		t.Fatal("should be unavailable")
	}

	c.RefreshNow(ctx)
	if !c.Available() {
		t.Fatal("one success should restore availability")
	}

	// The counter restarted; a single failure stays available.
	c.RefreshNow(ctx)
	if !c.Available() {
		t.Error("failure budget should have been reset by the success")
	}
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	fetcher := &scriptedFetcher{script: []fetchResult{
		{status: miio.Status{"on": true}},
	}}
	c := New("120009025", "m", fetcher, Config{})

	ch, cancel := c.Subscribe()
	defer cancel()

	c.RefreshNow(context.Background())

	select {
	case update := <-ch:
		if update.DeviceID != "120009025" {
			t.Errorf("DeviceID = %v", update.DeviceID)
		}
		if !update.Available || update.Err != nil {
			t.Errorf("update = %+v", update)
		}
		if on, _ := update.Status.Bool("on"); !on {
			t.Errorf("update status = %v", update.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("no update received")
	}
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	c := New("1", "m", &scriptedFetcher{script: []fetchResult{{}}}, Config{})
	ch, cancel := c.Subscribe()
	cancel()
	cancel() // idempotent

	if _, open := <-ch; open {
		t.Error("channel should be closed after cancel")
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	fetcher := &scriptedFetcher{script: []fetchResult{
		{status: miio.Status{"on": true}},
	}}
	c := New("1", "m", fetcher, Config{})

	_, cancel := c.Subscribe() // never drained
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+5; i++ {
			c.RefreshNow(context.Background())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("polls blocked on a slow subscriber")
	}
}

func TestRunPollsOnInterval(t *testing.T) {
	fetcher := &scriptedFetcher{script: []fetchResult{
		{status: miio.Status{"on": true}},
	}}
	c := New("1", "m", fetcher, Config{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	c.Run(ctx)

	if fetcher.callCount() < 3 {
		t.Errorf("calls = %d, want several over the run window", fetcher.callCount())
	}
}

func TestForceRefreshWakesRunLoop(t *testing.T) {
	fetcher := &scriptedFetcher{script: []fetchResult{
		{status: miio.Status{"on": true}},
	}}
	c := New("1", "m", fetcher, Config{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	// Wait for the startup poll, then force another.
	deadline := time.Now().Add(time.Second)
	for fetcher.callCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	c.ForceRefresh()

	deadline = time.Now().Add(time.Second)
	for fetcher.callCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if fetcher.callCount() < 2 {
		t.Error("ForceRefresh did not trigger a poll")
	}
}
