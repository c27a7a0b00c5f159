package ipcpipe

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMessageServiceQuitStopsRun(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "quit.sock")
	svc, err := NewMessageService(ServiceConfig{PipeName: sock, Role: RoleServer}, nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		svc.Run()
		close(done)
	}()

	_, err = svc.Listen(func(*Channel) {})
	require.NoError(t, err)

	svc.Quit()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Quit")
	}
}

func TestMessageServiceCloseChannelRemovesFromCollection(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "closechan.sock")
	svc := newTestService(t, RoleServer, sock)

	ch, err := svc.Listen(func(*Channel) {})
	require.NoError(t, err)

	svc.CloseChannel(ch.ID())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		svc.mu.Lock()
		_, present := svc.channels[ch.ID()]
		svc.mu.Unlock()
		if !present {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("channel was not removed from the collection")
}

func TestMessageServiceMetricsRegistered(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "metrics.sock")
	svc := newTestService(t, RoleServer, sock)

	_, err := svc.Listen(func(*Channel) {})
	require.NoError(t, err)

	gathered, err := svc.Metrics().Registry().Gather()
	require.NoError(t, err)
	require.NotEmpty(t, gathered)
}
