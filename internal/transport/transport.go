// Package transport implements A4: the duplex Message channel a Session
// drives frames over. The teacher's go.mod already carries
// github.com/coder/websocket for a sync.websocket config option it never
// wires up (internal/config declares the setting; nothing imports the
// package) — BDP is what actually exercises it.
package transport

import (
	"context"
)

// Message is one transport-level frame: exactly one of Text or Binary is
// set, mirroring the two physical message types from spec.md §4.7.
type Message struct {
	Text   string
	Binary []byte
}

// IsBinary reports whether m carries a binary (CHUNK) payload.
func (m Message) IsBinary() bool { return m.Binary != nil }

// Transport is the duplex channel a session drives wire frames over.
// Implementations return bdperr.ErrTransportClosed (wrapped) once Close
// has been called.
type Transport interface {
	Send(ctx context.Context, msg Message) error
	Recv(ctx context.Context) (Message, error)
	Close() error
}
