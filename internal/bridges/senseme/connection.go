package senseme

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Default timings for fan sessions.
const (
	// defaultConnectTimeout bounds a single dial attempt.
	defaultConnectTimeout = 10 * time.Second

	// defaultPollInterval is the read deadline per loop iteration. It keeps
	// the loop responsive to Stop and to staleness checks.
	defaultPollInterval = 5 * time.Second

	// defaultWriteTimeout bounds a single socket write.
	defaultWriteTimeout = 5 * time.Second

	// defaultReconnectDelay is waited before every reconnect attempt.
	defaultReconnectDelay = 5 * time.Second

	// defaultRetryDelay is waited after a failed dial.
	defaultRetryDelay = 60 * time.Second

	// defaultKeepAlive is the TCP keep-alive period on fan sockets.
	defaultKeepAlive = 30 * time.Second

	// readBufferSize is the size of one socket read.
	readBufferSize = 1024
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Dialer opens fan sockets. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ConnectionState is the lifecycle state of a fan session.
type ConnectionState int32

// Connection states.
const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReinitializing
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReinitializing:
		return "reinitializing"
	default:
		return "unknown"
	}
}

// ConnectionConfig holds per-fan session settings. It is fixed for the
// lifetime of a Connection; changing it means stopping and recreating it.
type ConnectionConfig struct {
	// DeviceID tags every event this connection produces.
	DeviceID string

	// Identity is the token written at the front of outbound requests.
	Identity string

	// IP is the fan's address. Port defaults to DefaultPort.
	IP   string
	Port int

	// IdleTimeout recycles the socket when nothing was read or written for
	// this long. Zero disables staleness detection.
	IdleTimeout time.Duration

	// ConnectTimeout bounds each dial. Default: 10s.
	ConnectTimeout time.Duration

	// PollInterval is the read deadline per loop iteration. Default: 5s.
	PollInterval time.Duration

	// ReconnectDelay is waited before reconnecting after a session ended.
	// Negative disables the delay. Default: 5s.
	ReconnectDelay time.Duration

	// RetryDelay is waited after a failed dial. Default: 60s.
	RetryDelay time.Duration
}

// Address returns host:port for the fan.
func (c ConnectionConfig) Address() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.IP, strconv.Itoa(port))
}

func (c *ConnectionConfig) applyDefaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.PollInterval == 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = defaultRetryDelay
	}
}

// ConnectionStats holds operational statistics for one fan session.
type ConnectionStats struct {
	State           ConnectionState
	FramesRx        uint64
	BytesRx         uint64
	WritesTx        uint64
	ErrorsTotal     uint64
	ReconnectsTotal uint64
	StaleTotal      uint64
	LastActivity    time.Time
}

// ConnectionOptions carries collaborators for NewConnection.
type ConnectionOptions struct {
	Config ConnectionConfig
	Events EventSink

	// Dialer defaults to a net.Dialer with keep-alive enabled.
	Dialer Dialer

	// Clock drives delays and staleness. Defaults to the real clock.
	Clock clockwork.Clock

	Logger Logger
}

// Connection owns the TCP session with one fan.
//
// It runs a connect → read → reconnect loop in its own goroutine, feeds
// every decoded frame to the event sink and never touches canonical state.
// Dial failures are retried forever; nothing a single fan does can stop
// another fan's connection or the reconciler.
type Connection struct {
	cfg    ConnectionConfig
	events EventSink
	dialer Dialer
	clock  clockwork.Clock
	logger Logger

	state atomic.Int32

	connMu sync.Mutex
	conn   net.Conn

	// writeMu keeps concurrent requests from interleaving on the socket.
	writeMu sync.Mutex

	ctx      context.Context
	cancel   context.CancelFunc
	started  atomic.Bool
	finished chan struct{}
	stopOnce sync.Once

	framesRx     atomic.Uint64
	bytesRx      atomic.Uint64
	writesTx     atomic.Uint64
	errorsTotal  atomic.Uint64
	reconnects   atomic.Uint64
	staleTotal   atomic.Uint64
	lastActivity atomic.Int64 // UnixNano on clock
}

// NewConnection creates a connection manager. Call Start to run it.
func NewConnection(opts ConnectionOptions) *Connection {
	cfg := opts.Config
	cfg.applyDefaults()

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: defaultKeepAlive}
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		cfg:      cfg,
		events:   opts.Events,
		dialer:   dialer,
		clock:    clock,
		logger:   opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
		finished: make(chan struct{}),
	}
}

// Start launches the connection goroutine. Calling it again is a no-op.
func (c *Connection) Start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	go c.run()
}

// Stop asks the connection to exit, closes the socket and blocks until
// the goroutine has terminated. Safe to call multiple times.
func (c *Connection) Stop() {
	c.stopOnce.Do(func() {
		c.cancel()
		c.closeConn()
	})
	if c.started.Load() {
		<-c.finished
	}
}

// Done is closed when the connection goroutine has terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.finished
}

// State returns the current lifecycle state.
func (c *Connection) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// IsConnected reports whether a socket is open.
func (c *Connection) IsConnected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn != nil
}

// Write sends one raw request over the open session.
func (c *Connection) Write(ctx context.Context, raw string) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	return c.write(ctx, conn, raw)
}

// QueryAll sends the full-state query burst over the open session.
func (c *Connection) QueryAll(ctx context.Context) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	return c.sendQueryBurst(ctx, conn)
}

// Stats returns current operational statistics.
func (c *Connection) Stats() ConnectionStats {
	return ConnectionStats{
		State:           c.State(),
		FramesRx:        c.framesRx.Load(),
		BytesRx:         c.bytesRx.Load(),
		WritesTx:        c.writesTx.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
		ReconnectsTotal: c.reconnects.Load(),
		StaleTotal:      c.staleTotal.Load(),
		LastActivity:    time.Unix(0, c.lastActivity.Load()),
	}
}

// run is the session state machine.
func (c *Connection) run() {
	defer close(c.finished)
	defer c.debug("connection manager stopped")

	connectedBefore := false
	for !c.stopping() {
		if connectedBefore && !c.sleep(c.cfg.ReconnectDelay) {
			return
		}

		c.setState(StateConnecting)
		conn, err := c.dial()
		if err != nil {
			c.setState(StateDisconnected)
			if c.stopping() {
				return
			}
			c.errorsTotal.Add(1)
			c.debug(fmt.Sprintf("connect to %s failed: %v", c.cfg.Address(), err))
			if !c.sleep(c.cfg.RetryDelay) {
				return
			}
			continue
		}

		c.attach(conn)
		c.touch()
		c.logInfo("connected to fan", "address", c.cfg.Address(), "reconnect", connectedBefore)

		if connectedBefore {
			c.setState(StateReinitializing)
			c.reconnects.Add(1)
			c.emit(KindReinit, ReinitQueried)
		}
		connectedBefore = true

		err = c.sendQueryBurst(c.ctx, conn)
		if err == nil {
			c.setState(StateConnected)
			err = c.readLoop(conn)
		}

		c.closeConn()
		c.setState(StateDisconnected)
		if c.stopping() {
			return
		}
		c.errorsTotal.Add(1)
		c.debug(fmt.Sprintf("connection to %s lost: %v", c.cfg.Address(), err))
	}
}

// readLoop reads until the socket fails, goes stale or Stop is called.
func (c *Connection) readLoop(conn net.Conn) error {
	buf := make([]byte, readBufferSize)
	leftover := ""

	for {
		if c.stopping() {
			return nil
		}
		if c.isStale() {
			c.staleTotal.Add(1)
			return fmt.Errorf("%w: no traffic for %s", ErrStale, c.cfg.IdleTimeout)
		}

		// Socket deadlines are wall-clock; the injected clock only
		// measures staleness.
		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.PollInterval)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}

		n, err := conn.Read(buf)
		if n > 0 {
			c.touch()
			c.bytesRx.Add(uint64(n))

			var frames []string
			frames, leftover = DecodeFrames(leftover, buf[:n])
			for _, frame := range frames {
				c.framesRx.Add(1)
				c.emit(KindFrame, frame)
			}
			if len(leftover) > maxPendingFrame {
				c.debug(fmt.Sprintf("discarding %d bytes of unterminated frame", len(leftover)))
				leftover = ""
			}
		}

		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("read: %w", err)
		}
	}
}

// queryBurst lists the requests that together cover a fan's full state.
// GETALL misses a few fields on older firmware, so they are asked for
// explicitly.
func queryBurst(identity string) []string {
	return []string{
		EncodeRequest(identity, "GETALL"),
		EncodeRequest(identity, "DEVICE", "ID", "GET"),
		EncodeRequest(identity, "SNSROCC", "STATUS", "GET"),
		EncodeRequest(identity, "SMARTMODE", "ACTUAL", "GET"),
		EncodeRequest(identity, "FAN", "DIR", "GET"),
	}
}

func (c *Connection) sendQueryBurst(ctx context.Context, conn net.Conn) error {
	for _, req := range queryBurst(c.cfg.Identity) {
		if err := c.write(ctx, conn, req); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) write(ctx context.Context, conn net.Conn, raw string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := conn.Write([]byte(raw)); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("write: %w", err)
	}

	c.writesTx.Add(1)
	c.touch()
	return nil
}

func (c *Connection) dial() (net.Conn, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, err := c.dialer.DialContext(ctx, "tcp", c.cfg.Address())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		//nolint:errcheck // keep-alive is best-effort
		tcp.SetKeepAlive(true)
	}
	return conn, nil
}

// attach publishes conn for writers. If Stop raced the dial, the socket is
// closed immediately and the read loop exits on its first iteration.
func (c *Connection) attach(conn net.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	if c.stopping() {
		c.closeConn()
	}
}

func (c *Connection) closeConn() {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// sleep waits d on the injected clock. It returns false if Stop was
// called meanwhile.
func (c *Connection) sleep(d time.Duration) bool {
	if d <= 0 {
		return !c.stopping()
	}
	select {
	case <-c.ctx.Done():
		return false
	case <-c.clock.After(d):
		return true
	}
}

func (c *Connection) isStale() bool {
	if c.cfg.IdleTimeout <= 0 {
		return false
	}
	last := time.Unix(0, c.lastActivity.Load())
	return c.clock.Since(last) > c.cfg.IdleTimeout
}

func (c *Connection) touch() {
	c.lastActivity.Store(c.clock.Now().UnixNano())
}

func (c *Connection) stopping() bool {
	return c.ctx.Err() != nil
}

func (c *Connection) setState(s ConnectionState) {
	c.state.Store(int32(s))
}

func (c *Connection) emit(kind EventKind, payload string) {
	if c.events == nil {
		return
	}
	c.events.Push(Event{Kind: kind, DeviceID: c.cfg.DeviceID, Payload: payload})
}

func (c *Connection) debug(msg string) {
	c.emit(KindDebug, msg)
}

func (c *Connection) logInfo(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Info(msg, append([]any{"device_id", c.cfg.DeviceID}, keysAndValues...)...)
	}
}
