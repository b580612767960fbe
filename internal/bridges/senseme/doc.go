// Package senseme implements the SenseME ceiling fan bridge.
//
// SenseME fans (Haiku and compatible controllers) speak a small text
// protocol on port 31415. Requests are written as <name;FIELD;...;VALUE>
// and the fan answers, and broadcasts unsolicited changes, as
// (name;FIELD;...;VALUE) frames concatenated back to back on the stream.
//
// # Architecture
//
//	┌────────────┐  TCP   ┌────────────┐        ┌─────────────┐        ┌───────────┐
//	│  Fan (N)   │◄──────►│ Connection │─Event─►│  EventQueue │───────►│ Reconciler│──► StateSink
//	└────────────┘        └────────────┘        └─────────────┘        └─────┬─────┘
//	      ▲ UDP                 ▲ Write                                      │ Match
//	      └─────────────────────┴──────────── Correlator ◄── WatchTable ◄────┘
//
// One Connection runs per fan. It dials, reads with a short poll deadline,
// reassembles frames with DecodeFrames and pushes them onto the shared
// EventQueue. A single Reconciler drains the queue, keeps the canonical
// FanState per fan and only publishes values that actually changed. The
// first value seen after start or after a reconnect (REINIT) is a baseline
// and is published without the notify flag.
//
// Commands that need confirmation go through Correlator.SendAndConfirm,
// which arms a watch for the fan, sends the command and waits until the
// Reconciler sees a frame containing the expected text.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package senseme
