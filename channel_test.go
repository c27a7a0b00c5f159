package ipcpipe

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newTestService wires a MessageService over a Unix domain socket under
// t.TempDir(), exercising the same Reactor/WorkerService/Channel stack the
// Windows named-pipe build uses, just with PipeEndpoint's portable backend.
func newTestService(t *testing.T, role Role, sockPath string) *MessageService {
	t.Helper()
	svc, err := NewMessageService(ServiceConfig{
		PipeName: sockPath,
		Role:     role,
		Pipe:     PipeConfig{BusyWaitTimeout: 2 * time.Second},
	}, nil)
	require.NoError(t, err)
	go svc.Run()
	t.Cleanup(svc.Quit)
	return svc
}

func TestChannelEchoRoundTrip(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "echo.sock")
	received := make(chan *Message, 1)

	server := newTestService(t, RoleServer, sock)
	_, err := server.Listen(func(ch *Channel) {
		if ch.State() != StateConnected {
			return
		}
		for {
			msg, ok := ch.Receive()
			if !ok {
				return
			}
			require.NoError(t, ch.Send(msg))
		}
	})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond) // let the listener start accepting

	client := newTestService(t, RoleClient, sock)
	_, err = client.CreateChannel(func(ch *Channel) {
		for {
			msg, ok := ch.Receive()
			if !ok {
				return
			}
			select {
			case received <- msg:
			default:
			}
		}
	})
	require.NoError(t, err)

	// Send as soon as the channel is registered; Send buffers safely even
	// before the channel reaches Connected.
	clientChans := waitForChannel(t, client)
	require.NoError(t, clientChans.Send(NewMessage(1, []byte("ping"))))

	select {
	case msg := <-received:
		require.Equal(t, uint32(1), msg.ID())
		require.Equal(t, []byte("ping"), msg.Payload())
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for echoed message")
	}
}

// waitForChannel returns the first (and in these tests, only) channel a
// client-role service has created, once CreateChannel has registered it.
func waitForChannel(t *testing.T, svc *MessageService) *Channel {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		svc.mu.Lock()
		for _, ch := range svc.channels {
			svc.mu.Unlock()
			return ch
		}
		svc.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no channel registered in time")
	return nil
}

func TestChannelOversizeFrameClosesChannel(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "oversize.sock")
	closed := make(chan struct{}, 1)

	server := newTestService(t, RoleServer, sock)
	_, err := server.Listen(func(ch *Channel) {
		if ch.State() == StateClosed {
			select {
			case closed <- struct{}{}:
			default:
			}
		}
	})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	client := newTestService(t, RoleClient, sock)
	_, err = client.CreateChannel(func(*Channel) {})
	require.NoError(t, err)
	clientChan := waitForChannel(t, client)

	// Hand-build a wire frame with size just beyond DefaultMaxMessageSize,
	// bypassing NewMessage's own validation-free constructor (spec §8 S3).
	bogus := make([]byte, FrameHeaderSize)
	bigSize := uint32(DefaultMaxMessageSize + 1)
	bogus[4] = byte(bigSize)
	bogus[5] = byte(bigSize >> 8)
	bogus[6] = byte(bigSize >> 16)
	bogus[7] = byte(bigSize >> 24)

	require.NoError(t, clientChan.Send(messageFromFrame(bogus)))

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("server channel never reached Closed after oversize frame")
	}
}

func TestChannelSendAfterCloseReturnsErrClosed(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "afterclose.sock")
	server := newTestService(t, RoleServer, sock)
	_, err := server.Listen(func(*Channel) {})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	client := newTestService(t, RoleClient, sock)
	_, err = client.CreateChannel(func(*Channel) {})
	require.NoError(t, err)
	ch := waitForChannel(t, client)

	require.NoError(t, ch.Close())
	require.ErrorIs(t, ch.Send(NewMessage(1, nil)), ErrClosed)
}

func TestChannelMultiInstanceServer(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "multi.sock")
	connections := make(chan struct{}, 8)

	server := newTestService(t, RoleServer, sock)
	_, err := server.Listen(func(ch *Channel) {
		if ch.State() == StateConnected {
			select {
			case connections <- struct{}{}:
			default:
			}
		}
	})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	for i := 0; i < 2; i++ {
		client := newTestService(t, RoleClient, sock)
		_, err := client.CreateChannel(func(*Channel) {})
		require.NoError(t, err, fmt.Sprintf("client %d", i))
	}

	for i := 0; i < 2; i++ {
		select {
		case <-connections:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of 2 clients connected", i)
		}
	}
}
