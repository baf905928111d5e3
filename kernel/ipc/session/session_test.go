package session

import (
	"testing"
	"time"

	kernelerror "nucleus/kernel/error"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendReceiveReply(t *testing.T) {
	from, to, cleanup := newTestEndpoints(t)
	defer cleanup()

	server, client := NewPair()
	defer server.Close()

	type serverOutcome struct {
		received Result
		replyErr *kernelerror.Error
	}
	outcomeCh := make(chan serverOutcome, 1)

	go func() {
		req, rr, err := server.Receive(Endpoint(to), cBufBehavior{kind: cBufDisabled})
		if err != nil {
			outcomeCh <- serverOutcome{replyErr: err}
			return
		}
		replyErr := server.Reply(Endpoint(to), req, Message{Type: 2, RawData: []byte("pong")})
		outcomeCh <- serverOutcome{received: rr, replyErr: replyErr}
	}()

	result, kerr := client.SendRequest(Endpoint(from), Message{Type: 1, RawData: []byte("ping")})
	outcome := <-outcomeCh

	require.Nil(t, kerr)
	require.Nil(t, outcome.replyErr)
	assert.Equal(t, []byte("ping"), outcome.received.RawData)
	assert.Equal(t, uint16(2), result.Type)
	assert.Equal(t, []byte("pong"), result.RawData)
}

func TestReplyWithoutActiveRequestIsInvalidState(t *testing.T) {
	server, _ := NewPair()
	defer server.Close()

	kerr := server.Reply(Endpoint{}, nil, Message{})
	require.NotNil(t, kerr)
	assert.Equal(t, kernelerror.InvalidState, kerr.Kind)
}

func TestAsServerSessionRejectsWrongHandleKind(t *testing.T) {
	server, client := NewPair()
	defer server.Close()

	_, kerr := AsServerSession(client)
	require.NotNil(t, kerr)
	assert.Equal(t, kernelerror.InvalidHandle, kerr.Kind)
}

func TestAsClientSessionRejectsWrongHandleKind(t *testing.T) {
	server, _ := NewPair()
	defer server.Close()

	_, kerr := AsClientSession(server)
	require.NotNil(t, kerr)
	assert.Equal(t, kernelerror.InvalidHandle, kerr.Kind)
}

func TestSendRequestFailsAfterServerClosed(t *testing.T) {
	from, _, cleanup := newTestEndpoints(t)
	defer cleanup()

	server, client := NewPair()
	server.Close()

	_, kerr := client.SendRequest(Endpoint(from), Message{})
	require.NotNil(t, kerr)
}

// TestReplyDoesNotBlockOnAnAbandonedSender models a client process being
// killed while its request sits in the server's queue: the sender never
// calls Unschedule again to collect the answer, but Reply must still
// complete without blocking or waking anything into userspace.
func TestReplyDoesNotBlockOnAnAbandonedSender(t *testing.T) {
	from, to, cleanup := newTestEndpoints(t)
	defer cleanup()

	server, client := NewPair()
	defer server.Close()

	go func() {
		_, _ = client.SendRequest(Endpoint(from), Message{Type: 9})
	}()

	req, _, kerr := server.Receive(Endpoint(to), NoCBuf())
	require.Nil(t, kerr)

	done := make(chan *kernelerror.Error, 1)
	go func() {
		done <- server.Reply(Endpoint(to), req, Message{Type: 10})
	}()

	select {
	case kerr := <-done:
		assert.Nil(t, kerr)
	case <-time.After(time.Second):
		t.Fatal("Reply blocked on an abandoned sender")
	}
}

func TestServerCloseFailsPendingRequests(t *testing.T) {
	from, _, cleanup := newTestEndpoints(t)
	defer cleanup()

	server, client := NewPair()

	errCh := make(chan *kernelerror.Error, 1)
	go func() {
		_, kerr := client.SendRequest(Endpoint(from), Message{})
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
