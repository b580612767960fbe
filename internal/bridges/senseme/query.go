package senseme

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// queryTimeout bounds a one-shot query end to end.
const queryTimeout = 5 * time.Second

// Query opens a short-lived TCP session to addr, sends raw and returns
// the value (last token) of the first reply frame. It is independent of
// any running Connection and is used for ad-hoc reads.
func Query(ctx context.Context, dialer Dialer, addr, raw string) (string, error) {
	if dialer == nil {
		dialer = &net.Dialer{}
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return "", fmt.Errorf("set deadline: %w", err)
	}

	if _, err := conn.Write([]byte(raw)); err != nil {
		return "", fmt.Errorf("%w: write: %w", ErrQueryFailed, err)
	}

	buf := make([]byte, readBufferSize)
	leftover := ""
	for {
		n, err := conn.Read(buf)
		var frames []string
		frames, leftover = DecodeFrames(leftover, buf[:n])
		if len(frames) > 0 {
			return ParseMessage(frames[0]).Value(), nil
		}
		if err != nil {
			return "", fmt.Errorf("%w: no reply to %s: %w", ErrQueryFailed, strings.TrimSpace(raw), err)
		}
	}
}
