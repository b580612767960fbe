package senseme

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// testLogger implements Logger and records messages.
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) record(level, msg string) {
	l.mu.Lock()
	l.messages = append(l.messages, level+": "+msg)
	l.mu.Unlock()
}

func (l *testLogger) Debug(msg string, _ ...any) { l.record("DEBUG", msg) }
func (l *testLogger) Info(msg string, _ ...any)  { l.record("INFO", msg) }
func (l *testLogger) Warn(msg string, _ ...any)  { l.record("WARN", msg) }
func (l *testLogger) Error(msg string, _ ...any) { l.record("ERROR", msg) }

// recordingSink implements StateSink.
type recordingSink struct {
	mu      sync.Mutex
	updates []published
}

type published struct {
	DeviceID string
	Attr     Attribute
	Value    string
	Notify   bool
}

func (s *recordingSink) Publish(deviceID string, attr Attribute, value string, notify bool) {
	s.mu.Lock()
	s.updates = append(s.updates, published{deviceID, attr, value, notify})
	s.mu.Unlock()
}

func (s *recordingSink) all() []published {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]published(nil), s.updates...)
}

// forAttr returns the updates for one attribute in order.
func (s *recordingSink) forAttr(attr Attribute) []published {
	var out []published
	for _, p := range s.all() {
		if p.Attr == attr {
			out = append(out, p)
		}
	}
	return out
}

// fakeFan is one end of a net.Pipe standing in for a fan.
type fakeFan struct {
	conn     net.Conn
	received chan string
}

// readRequests collects everything the bridge writes to the fan.
func (f *fakeFan) readRequests() {
	buf := make([]byte, 1024)
	for {
		n, err := f.conn.Read(buf)
		if n > 0 {
			f.received <- string(buf[:n])
		}
		if err != nil {
			close(f.received)
			return
		}
	}
}

// send writes frames to the bridge.
func (f *fakeFan) send(t *testing.T, data string) {
	t.Helper()
	f.conn.SetWriteDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test helper
	if _, err := f.conn.Write([]byte(data)); err != nil {
		t.Fatalf("fake fan write: %v", err)
	}
}

// waitFor reads requests until one contains substr.
func (f *fakeFan) waitFor(t *testing.T, substr string) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case req, ok := <-f.received:
			if !ok {
				t.Fatalf("fake fan closed before %q arrived", substr)
			}
			if strings.Contains(req, substr) {
				return
			}
		case <-timeout:
			t.Fatalf("timeout waiting for request %q", substr)
		}
	}
}

// waitForCount reads requests until n of them contained substr.
func (f *fakeFan) waitForCount(t *testing.T, substr string, n int) {
	t.Helper()
	seen := 0
	timeout := time.After(2 * time.Second)
	for seen < n {
		select {
		case req, ok := <-f.received:
			if !ok {
				t.Fatalf("fake fan closed after %d of %d %q", seen, n, substr)
			}
			seen += strings.Count(req, substr)
		case <-timeout:
			t.Fatalf("timeout: saw %d of %d %q", seen, n, substr)
		}
	}
}

// pipeDialer hands out net.Pipe connections and exposes the fan ends.
type pipeDialer struct {
	mu    sync.Mutex
	dials int
	fail  error
	fans  chan *fakeFan
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{fans: make(chan *fakeFan, 16)}
}

func (d *pipeDialer) DialContext(ctx context.Context, _, address string) (net.Conn, error) {
	d.mu.Lock()
	d.dials++
	fail := d.fail
	d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fail != nil {
		return nil, fmt.Errorf("dial %s: %w", address, fail)
	}

	client, server := net.Pipe()
	fan := &fakeFan{conn: server, received: make(chan string, 64)}
	go fan.readRequests()
	d.fans <- fan
	return client, nil
}

func (d *pipeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// nextFan waits for the next dial.
func (d *pipeDialer) nextFan(t *testing.T) *fakeFan {
	t.Helper()
	select {
	case fan := <-d.fans:
		t.Cleanup(func() { fan.conn.Close() })
		return fan
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for dial")
		return nil
	}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", what)
}
