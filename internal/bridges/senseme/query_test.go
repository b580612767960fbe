package senseme

import (
	"context"
	"errors"
	"net"
	"testing"
)

// serveOnce accepts one connection, records the request and answers with
// reply.
func serveOnce(t *testing.T, reply string) (addr string, requests <-chan string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	ch := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, 256)
		n, _ := conn.Read(buf)
		ch <- string(buf[:n])
		if reply != "" {
			conn.Write([]byte(reply)) //nolint:errcheck // test server
		}
	}()
	return ln.Addr().String(), ch
}

func TestQuery(t *testing.T) {
	addr, requests := serveOnce(t, "noise(Bedroom;FAN;SPD;CURR;3)(Bedroom;FAN;PWR;ON)")

	value, err := Query(context.Background(), nil, addr, "<Bedroom;FAN;SPD;GET>")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if value != "3" {
		t.Errorf("Query() = %q, want 3", value)
	}
	if req := <-requests; req != "<Bedroom;FAN;SPD;GET>" {
		t.Errorf("request = %q", req)
	}
}

func TestQuery_NoReply(t *testing.T) {
	addr, _ := serveOnce(t, "")

	_, err := Query(context.Background(), nil, addr, "<Bedroom;FAN;SPD;GET>")
	if !errors.Is(err, ErrQueryFailed) {
		t.Errorf("Query() error = %v, want ErrQueryFailed", err)
	}
}

func TestQuery_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	if _, err := Query(context.Background(), nil, addr, "<x>"); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Query() error = %v, want ErrConnectionFailed", err)
	}
}
