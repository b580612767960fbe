package senseme

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultConfirmTimeout is how long SendAndConfirm waits by default.
const DefaultConfirmTimeout = 10 * time.Second

// watch is one armed confirmation.
type watch struct {
	predicates []string
	result     chan error // buffered; receives exactly one value
}

// matches reports whether frame contains any of the predicates.
func (w *watch) matches(frame string) bool {
	for _, p := range w.predicates {
		if strings.Contains(frame, p) {
			return true
		}
	}
	return false
}

// WatchTable holds at most one pending watch per fan.
//
// The correlator arms watches; the reconciler completes them. A newer Arm
// for the same fan replaces the pending watch and fails the old caller
// with ErrWatchSuperseded.
type WatchTable struct {
	mu      sync.Mutex
	pending map[string]*watch
}

// NewWatchTable creates an empty table.
func NewWatchTable() *WatchTable {
	return &WatchTable{pending: make(map[string]*watch)}
}

func (t *WatchTable) arm(deviceID string, predicates ...string) *watch {
	w := &watch{predicates: predicates, result: make(chan error, 1)}

	t.mu.Lock()
	old := t.pending[deviceID]
	t.pending[deviceID] = w
	t.mu.Unlock()

	if old != nil {
		old.result <- ErrWatchSuperseded
	}
	return w
}

// disarm removes w if it is still the pending watch for deviceID.
func (t *WatchTable) disarm(deviceID string, w *watch) {
	t.mu.Lock()
	if t.pending[deviceID] == w {
		delete(t.pending, deviceID)
	}
	t.mu.Unlock()
}

// Match completes the pending watch for deviceID when the frame contains
// one of its predicates. Predicates are tested against the inbound wire
// form "(payload)" so a predicate may end in ")" to anchor on the final
// value.
func (t *WatchTable) Match(deviceID, payload string) bool {
	t.mu.Lock()
	w, ok := t.pending[deviceID]
	if !ok || !w.matches(frameOf(payload)) {
		t.mu.Unlock()
		return false
	}
	delete(t.pending, deviceID)
	t.mu.Unlock()

	w.result <- nil
	return true
}

// armed returns the predicates pending for deviceID, if any.
func (t *WatchTable) armed(deviceID string) ([]string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.pending[deviceID]
	if !ok {
		return nil, false
	}
	return w.predicates, true
}

// Transport delivers a raw request to a fan.
type Transport interface {
	Send(ctx context.Context, deviceID, raw string) error
}

// Correlator pairs a fire-and-forget command with the asynchronous frame
// that confirms it.
type Correlator struct {
	watches   *WatchTable
	transport Transport
	clock     clockwork.Clock
	timeout   time.Duration
}

// NewCorrelator creates a correlator. timeout <= 0 uses
// DefaultConfirmTimeout; a nil clock uses the real clock.
func NewCorrelator(watches *WatchTable, transport Transport, clock clockwork.Clock, timeout time.Duration) *Correlator {
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Correlator{
		watches:   watches,
		transport: transport,
		clock:     clock,
		timeout:   timeout,
	}
}

// SendAndConfirm arms a watch for deviceID, sends raw and blocks until a
// frame containing predicate is processed for that fan.
//
// It returns ErrConfirmTimeout if nothing matched within timeout (the
// correlator default when timeout <= 0), ErrWatchSuperseded if a newer
// command for the same fan took over the watch slot, or the transport
// error if sending failed. Nothing is retried.
func (c *Correlator) SendAndConfirm(ctx context.Context, deviceID, raw, predicate string, timeout time.Duration) error {
	return c.SendAndConfirmAny(ctx, deviceID, raw, []string{predicate}, timeout)
}

// SendAndConfirmAny is SendAndConfirm for a command whose confirmation
// may arrive in more than one form. Any predicate matching completes it.
func (c *Correlator) SendAndConfirmAny(ctx context.Context, deviceID, raw string, predicates []string, timeout time.Duration) error {
	if len(predicates) == 0 {
		return fmt.Errorf("%w: confirmation predicate is empty", ErrInvalidValue)
	}
	if timeout <= 0 {
		timeout = c.timeout
	}

	w := c.watches.arm(deviceID, predicates...)

	if err := c.transport.Send(ctx, deviceID, raw); err != nil {
		c.watches.disarm(deviceID, w)
		return fmt.Errorf("send %s: %w", raw, err)
	}

	timer := c.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-w.result:
		return err
	case <-timer.Chan():
		c.watches.disarm(deviceID, w)
		return fmt.Errorf("%w: %s did not report %s within %s",
			ErrConfirmTimeout, deviceID, strings.Join(predicates, " or "), timeout)
	case <-ctx.Done():
		c.watches.disarm(deviceID, w)
		return ctx.Err()
	}
}
