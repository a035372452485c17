package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPipeSendRecvRoundTrip(t *testing.T) {
	a, b := NewPipe()
	defer a.Close()
	defer b.Close()

	ctx := context.Background()

	require.NoError(t, a.Send(ctx, Message{Text: "hello"}))

	msg, err := b.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello", msg.Text)
	require.False(t, msg.IsBinary())
}

func TestPipeBinaryMessage(t *testing.T) {
	a, b := NewPipe()
	defer a.Close()
	defer b.Close()

	ctx := context.Background()

	require.NoError(t, a.Send(ctx, Message{Binary: []byte{1, 2, 3}}))

	msg, err := b.Recv(ctx)
	require.NoError(t, err)
	require.True(t, msg.IsBinary())
	require.Equal(t, []byte{1, 2, 3}, msg.Binary)
}

func TestPipeCloseUnblocksRecv(t *testing.T) {
	a, b := NewPipe()
	defer a.Close()

	ctx := context.Background()

	errCh := make(chan error, 1)

	go func() {
		_, err := b.Recv(ctx)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, b.Close())

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Recv did not unblock after Close")
	}
}

func TestPipeSendAfterCloseErrors(t *testing.T) {
	a, b := NewPipe()
	defer b.Close()

	require.NoError(t, a.Close())

	err := a.Send(context.Background(), Message{Text: "x"})
	require.Error(t, err)
}
