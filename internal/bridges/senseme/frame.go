package senseme

import "strings"

// Protocol framing.
const (
	// DefaultPort is the TCP and UDP port every SenseME fan listens on.
	DefaultPort = 31415

	// fieldSeparator separates tokens inside a frame.
	fieldSeparator = ";"

	frameOpen    = '('
	frameClose   = ')'
	requestOpen  = "<"
	requestClose = ">"

	// maxPendingFrame bounds the carry-over kept for an unterminated frame.
	// Real frames are well under 200 bytes.
	maxPendingFrame = 4096
)

// DecodeFrames splits a read into complete frame payloads.
//
// leftover is the unterminated tail returned by the previous call for the
// same stream. It is prefixed to data before scanning. Each returned
// payload is the text between '(' and the next ')', exclusive. Bytes that
// appear before an opening parenthesis are line noise and are dropped.
// The returned rest is the byte-exact tail starting at an opening
// parenthesis that has not been closed yet, or "" when there is none.
//
// The result does not depend on how the stream was split across reads:
// decoding A+B in one call yields the same frames as decoding A and then B
// with the carried rest.
//
// An empty read returns no frames and leftover unchanged.
func DecodeFrames(leftover string, data []byte) (frames []string, rest string) {
	if len(data) == 0 {
		return nil, leftover
	}

	buf := leftover + string(data)
	for {
		start := strings.IndexByte(buf, frameOpen)
		if start < 0 {
			return frames, ""
		}

		end := strings.IndexByte(buf[start+1:], frameClose)
		if end < 0 {
			return frames, buf[start:]
		}

		frames = append(frames, buf[start+1:start+1+end])
		buf = buf[start+1+end+1:]
	}
}

// EncodeRequest builds an outbound request frame: <tok1;tok2;...>.
func EncodeRequest(tokens ...string) string {
	return requestOpen + strings.Join(tokens, fieldSeparator) + requestClose
}

// frameOf returns the inbound wire form of a decoded payload.
func frameOf(payload string) string {
	return string(frameOpen) + payload + string(frameClose)
}
