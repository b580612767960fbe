// Package api provides the bridge's HTTP API and WebSocket stream.
//
// Routes (all under /api/v1):
//
//	GET    /health                 bridge health and statistics
//	GET    /commands               command catalogue
//	GET    /fans                   registered fans with live connection state
//	POST   /fans                   register a fan and start it
//	GET    /fans/{id}              one fan
//	PUT    /fans/{id}              edit a fan and restart its connection
//	DELETE /fans/{id}              stop and remove a fan
//	GET    /fans/{id}/state        reconciled state snapshot
//	GET    /fans/{id}/history      recorded attribute changes
//	POST   /fans/{id}/commands     run a catalogue command
//	POST   /fans/{id}/raw          send a raw request body, optionally confirmed
//	GET    /fans/{id}/query?q=     one-shot query, returns the reply value
//	GET    /ws                     WebSocket stream of fan.state_changed
//
// The Hub is a senseme.StateObserver, so it is created before the bridge
// and handed to both.
package api
