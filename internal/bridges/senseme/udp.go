package senseme

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// discoveryProbe is the broadcast other controllers send to find fans.
// The listener sees it constantly and drops it.
const discoveryProbe = "ALL;DEVICE;ID;GET"

// udpReadTimeout is the listener's poll interval.
const udpReadTimeout = 2 * time.Second

// SendUDP writes raw to the fan at ip as a single datagram. Nothing is
// read back; confirmation, if any, arrives on the TCP session.
func SendUDP(ctx context.Context, ip string, port int, raw string) error {
	if port == 0 {
		port = DefaultPort
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("%w: udp: %w", ErrConnectionFailed, err)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := conn.Write([]byte(raw)); err != nil {
		return fmt.Errorf("udp write: %w", err)
	}
	return nil
}

// DeviceResolver maps the device token at the front of a frame to a
// registered fan ID.
type DeviceResolver func(token string) (deviceID string, ok bool)

// Listener receives unsolicited datagrams that fans broadcast on the LAN
// and feeds them to the event queue alongside the TCP sessions.
type Listener struct {
	addr    string
	events  EventSink
	resolve DeviceResolver
	logger  Logger

	mu   sync.Mutex
	conn net.PacketConn

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	datagramsRx atomic.Uint64
	unmatched   atomic.Uint64
}

// NewListener creates a listener bound to addr (e.g. ":31415") once
// Start is called.
func NewListener(addr string, events EventSink, resolve DeviceResolver, logger Logger) *Listener {
	return &Listener{
		addr:    addr,
		events:  events,
		resolve: resolve,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start binds the socket and begins receiving.
func (l *Listener) Start() error {
	conn, err := net.ListenPacket("udp", l.addr)
	if err != nil {
		return fmt.Errorf("listen udp %s: %w", l.addr, err)
	}

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()

	l.wg.Add(1)
	go l.receiveLoop(conn)
	return nil
}

// Addr returns the bound address, or nil before Start.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Stop closes the socket and waits for the receive loop.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
		l.mu.Lock()
		if l.conn != nil {
			l.conn.Close()
		}
		l.mu.Unlock()
		l.wg.Wait()
	})
}

func (l *Listener) receiveLoop(conn net.PacketConn) {
	defer l.wg.Done()

	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-l.done:
			return
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(udpReadTimeout)); err != nil {
			l.logWarn("set udp read deadline failed", "error", err)
			return
		}

		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-l.done:
			default:
				l.logWarn("udp listener read failed", "error", err)
			}
			return
		}

		l.handleDatagram(string(buf[:n]), from)
	}
}

func (l *Listener) handleDatagram(data string, from net.Addr) {
	if strings.Contains(data, discoveryProbe) {
		return
	}
	l.datagramsRx.Add(1)

	frames, _ := DecodeFrames("", []byte(data))
	for _, frame := range frames {
		msg := ParseMessage(frame)
		deviceID, ok := l.resolve(msg.Device)
		if !ok {
			l.unmatched.Add(1)
			l.logDebug("datagram for unknown fan", "device", msg.Device, "from", from.String())
			continue
		}
		l.events.Push(Event{Kind: KindFrame, DeviceID: deviceID, Payload: frame})
	}
}

// Received returns how many datagrams were accepted.
func (l *Listener) Received() uint64 { return l.datagramsRx.Load() }

func (l *Listener) logDebug(msg string, keysAndValues ...any) {
	if l.logger != nil {
		l.logger.Debug(msg, keysAndValues...)
	}
}

func (l *Listener) logWarn(msg string, keysAndValues ...any) {
	if l.logger != nil {
		l.logger.Warn(msg, keysAndValues...)
	}
}
