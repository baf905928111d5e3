package port

import (
	"testing"

	kernelerror "nucleus/kernel/error"
	"nucleus/kernel/ipc/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectAcceptRendezvous(t *testing.T) {
	server, client := NewPair()
	defer server.Close()

	acceptedCh := make(chan *session.ServerSession, 1)
	go func() {
		s, err := server.Accept()
		require.Nil(t, err)
		acceptedCh <- s
	}()

	clientSession, kerr := client.Connect()
	require.Nil(t, kerr)
	require.NotNil(t, clientSession)

	serverSession := <-acceptedCh
	require.NotNil(t, serverSession)
}

func TestConnectFailsAfterServerPortClosed(t *testing.T) {
	server, client := NewPair()
	server.Close()

	_, kerr := client.Connect()
	require.NotNil(t, kerr)
	assert.Equal(t, kernelerror.IPCError, kerr.Kind)
}

func TestAsServerPortRejectsWrongHandleKind(t *testing.T) {
	server, client := NewPair()
	defer server.Close()

	_, kerr := AsServerPort(client)
	require.NotNil(t, kerr)
	assert.Equal(t, kernelerror.InvalidHandle, kerr.Kind)
}

func TestAsClientPortRejectsWrongHandleKind(t *testing.T) {
	server, client := NewPair()
	defer server.Close()

	_, kerr := AsClientPort(server)
	require.NotNil(t, kerr)
	assert.Equal(t, kernelerror.InvalidHandle, kerr.Kind)
}

func TestServerPortCloseFailsPendingConnectors(t *testing.T) {
	server, client := NewPair()

	errCh := make(chan *kernelerror.Error, 1)
	go func() {
		_, kerr := client.Connect()
		errCh <- kerr
	}()

	for {
		server.c.lock.Acquire()
		n := len(server.c.incoming)
		server.c.lock.Release()
		if n > 0 {
			break
		}
	}
	server.Close()

	kerr := <-errCh
	require.NotNil(t, kerr)
}

func TestAcceptIsLIFO(t *testing.T) {
	server, client := NewPair()
	defer server.Close()

	connDone := make(chan struct{}, 2)
	go func() { _, _ = client.Connect(); connDone <- struct{}{} }()
	go func() { _, _ = client.Connect(); connDone <- struct{}{} }()

	var first *incomingConnection
	for {
		server.c.lock.Acquire()
		n := len(server.c.incoming)
		if n == 2 {
			first = server.c.incoming[0]
		}
		server.c.lock.Release()
		if n == 2 {
			break
		}
	}

	_, err := server.Accept()
	require.Nil(t, err)

	// The most recently queued connection was taken; the earlier one waits.
	server.c.lock.Acquire()
	remaining := append([]*incomingConnection(nil), server.c.incoming...)
	server.c.lock.Release()
	require.Len(t, remaining, 1)
	assert.Same(t, first, remaining[0])

	_, err = server.Accept()
	require.Nil(t, err)

	<-connDone
	<-connDone
}

func TestServerPortClone(t *testing.T) {
	server, client := NewPair()
	clone := server.Clone()
	server.Close()

	// One reference remains alive via clone, so connect must still work.
	acceptedCh := make(chan struct{}, 1)
	go func() {
		_, _ = clone.Accept()
		acceptedCh <- struct{}{}
	}()

	_, kerr := client.Connect()
	require.Nil(t, kerr)
	<-acceptedCh

	clone.Close()
}
