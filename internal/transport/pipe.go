package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/butterflysync/bdp/internal/bdperr"
)

// PipeTransport is an in-memory duplex Transport, used by tests instead
// of a real network link (grounded on
// the teacher's testutil fake-client style — testutil/testenv.go wires a
// fake Graph client instead of a real HTTP round trip).
type PipeTransport struct {
	out    chan Message
	in     chan Message
	closeMu sync.Mutex
	closed bool
	done   chan struct{}
}

// NewPipe returns two PipeTransports wired to each other: messages sent on
// one are received on the other.
func NewPipe() (a, b *PipeTransport) {
	ab := make(chan Message, 64)
	ba := make(chan Message, 64)

	a = &PipeTransport{out: ab, in: ba, done: make(chan struct{})}
	b = &PipeTransport{out: ba, in: ab, done: make(chan struct{})}

	return a, b
}

// Send delivers msg to the peer end of the pipe.
func (p *PipeTransport) Send(ctx context.Context, msg Message) error {
	p.closeMu.Lock()
	closed := p.closed
	p.closeMu.Unlock()

	if closed {
		return fmt.Errorf("pipe send: %w", bdperr.ErrTransportClosed)
	}

	select {
	case p.out <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipe send: %w", ctx.Err())
	case <-p.done:
		return fmt.Errorf("pipe send: %w", bdperr.ErrTransportClosed)
	}
}

// Recv blocks until a message arrives from the peer, ctx is cancelled, or
// the pipe is closed.
func (p *PipeTransport) Recv(ctx context.Context) (Message, error) {
	select {
	case msg, ok := <-p.in:
		if !ok {
			return Message{}, fmt.Errorf("pipe recv: %w", bdperr.ErrTransportClosed)
		}

		return msg, nil
	case <-ctx.Done():
		return Message{}, fmt.Errorf("pipe recv: %w", ctx.Err())
	case <-p.done:
		return Message{}, fmt.Errorf("pipe recv: %w", bdperr.ErrTransportClosed)
	}
}

// Close marks this end of the pipe closed. It does not close the
// underlying channels (shared with the peer end) to avoid a double-close
// panic if both ends close independently.
func (p *PipeTransport) Close() error {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	close(p.done)

	return nil
}

var _ Transport = (*PipeTransport)(nil)
