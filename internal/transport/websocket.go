package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"

	"github.com/butterflysync/bdp/internal/bdperr"
)

// WebsocketTransport wraps a github.com/coder/websocket connection.
type WebsocketTransport struct {
	conn *websocket.Conn
}

// DialWebsocket opens a client-side Transport to url.
func DialWebsocket(ctx context.Context, url string) (*WebsocketTransport, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}

	conn.SetReadLimit(-1) // chunk frames may legitimately exceed the library default

	return &WebsocketTransport{conn: conn}, nil
}

// AcceptWebsocket upgrades an inbound HTTP request to a server-side
// Transport.
func AcceptWebsocket(w http.ResponseWriter, r *http.Request) (*WebsocketTransport, error) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: accept: %w", err)
	}

	conn.SetReadLimit(-1)

	return &WebsocketTransport{conn: conn}, nil
}

// Send writes msg as a text or binary websocket frame, matching spec.md
// §4.7's two physical message types.
func (t *WebsocketTransport) Send(ctx context.Context, msg Message) error {
	if msg.IsBinary() {
		if err := t.conn.Write(ctx, websocket.MessageBinary, msg.Binary); err != nil {
			return fmt.Errorf("transport: send binary: %w", classifyWriteErr(err))
		}

		return nil
	}

	if err := t.conn.Write(ctx, websocket.MessageText, []byte(msg.Text)); err != nil {
		return fmt.Errorf("transport: send text: %w", classifyWriteErr(err))
	}

	return nil
}

// Recv reads the next websocket frame.
func (t *WebsocketTransport) Recv(ctx context.Context) (Message, error) {
	typ, data, err := t.conn.Read(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("transport: recv: %w", classifyWriteErr(err))
	}

	if typ == websocket.MessageBinary {
		return Message{Binary: data}, nil
	}

	return Message{Text: string(data)}, nil
}

// Close closes the underlying connection with a normal closure code.
func (t *WebsocketTransport) Close() error {
	if err := t.conn.Close(websocket.StatusNormalClosure, "session finished"); err != nil {
		return fmt.Errorf("transport: close: %w", err)
	}

	return nil
}

// classifyWriteErr maps a closed/EOF'd connection to bdperr.ErrTransportClosed
// so session retry logic can branch on errors.Is uniformly across both
// Transport implementations.
func classifyWriteErr(err error) error {
	var closeErr websocket.CloseError
	if errors.As(err, &closeErr) {
		return bdperr.ErrTransportClosed
	}

	return err
}

var _ Transport = (*WebsocketTransport)(nil)
