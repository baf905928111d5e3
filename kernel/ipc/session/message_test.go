package session

import (
	"testing"

	kernelerror "nucleus/kernel/error"
	"nucleus/kernel/handle"
	"nucleus/kernel/mem"
	"nucleus/kernel/mem/vmm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandleObject struct{ kind handle.Kind }

func (f fakeHandleObject) Kind() handle.Kind { return f.kind }

func newTestEndpoints(t *testing.T) (endpoint, endpoint, func()) {
	t.Helper()
	arena, err := vmm.NewArena(256 * mem.PageSize)
	require.NoError(t, err)

	fromSpace := vmm.NewSimpleAddressSpace(arena, 0x1000_0000)
	toSpace := vmm.NewSimpleAddressSpace(arena, 0x2000_0000)

	from := endpoint{Space: fromSpace, Handles: handle.NewTable(0), PID: 1}
	to := endpoint{Space: toSpace, Handles: handle.NewTable(0), PID: 2}
	return from, to, func() { _ = arena.Close() }
}

func TestPassMessageRejectsSameAddressSpace(t *testing.T) {
	from, _, cleanup := newTestEndpoints(t)
	defer cleanup()

	_, _, kerr := passMessage(from, from, Message{}, false, cBufBehavior{kind: cBufDisabled})
	require.NotNil(t, kerr)
}

func TestPassMessageCopiesRawDataAndPID(t *testing.T) {
	from, to, cleanup := newTestEndpoints(t)
	defer cleanup()

	msg := Message{Type: 42, RawData: []byte("hello"), SendPID: true}
	result, buffers, kerr := passMessage(from, to, msg, false, cBufBehavior{kind: cBufDisabled})
	require.Nil(t, kerr)
	assert.Empty(t, buffers)
	assert.Equal(t, uint16(42), result.Type)
	assert.Equal(t, []byte("hello"), result.RawData)
	assert.Equal(t, uint64(1), result.SenderPID)
}

func TestPassMessageMovesHandle(t *testing.T) {
	from, to, cleanup := newTestEndpoints(t)
	defer cleanup()

	obj := fakeHandleObject{kind: handle.KindThread}
	hv, kerr := from.Handles.Add(obj)
	require.Nil(t, kerr)

	msg := Message{MoveHandles: []uint32{hv}}
	result, _, kerr := passMessage(from, to, msg, false, cBufBehavior{kind: cBufDisabled})
	require.Nil(t, kerr)
	require.Len(t, result.Handles, 1)

	_, kerr = from.Handles.Get(hv)
	assert.NotNil(t, kerr, "moved handle should no longer resolve in the sender's table")

	got, kerr := to.Handles.Get(result.Handles[0])
	require.Nil(t, kerr)
	assert.Equal(t, obj, got)
}

func TestPassMessageCopiesHandle(t *testing.T) {
	from, to, cleanup := newTestEndpoints(t)
	defer cleanup()

	obj := fakeHandleObject{kind: handle.KindProcess}
	hv, kerr := from.Handles.Add(obj)
	require.Nil(t, kerr)

	msg := Message{CopyHandles: []uint32{hv}}
	result, _, kerr := passMessage(from, to, msg, false, cBufBehavior{kind: cBufDisabled})
	require.Nil(t, kerr)
	require.Len(t, result.Handles, 1)

	_, kerr = from.Handles.Get(hv)
	assert.Nil(t, kerr, "copied handle must still resolve in the sender's table")
}

func TestPassMessageRejectsABWOnReply(t *testing.T) {
	from, to, cleanup := newTestEndpoints(t)
	defer cleanup()

	msg := Message{A: []BufSpec{{Addr: 0x1000_0100, Size: 16}}}
	_, _, kerr := passMessage(from, to, msg, true, cBufBehavior{kind: cBufDisabled})
	require.NotNil(t, kerr)
}

func TestPassMessageMapsBBuffer(t *testing.T) {
	from, to, cleanup := newTestEndpoints(t)
	defer cleanup()

	require.Nil(t, from.Space.CreateRegularMapping(0x1000_0000, 1, vmm.Read|vmm.Write))
	payload := []byte("shared-bytes")
	require.Nil(t, from.Space.Write(0x1000_0000, payload))

	msg := Message{B: []BufSpec{{Addr: 0x1000_0000, Size: mem.Size(len(payload))}}}
	result, buffers, kerr := passMessage(from, to, msg, false, cBufBehavior{kind: cBufDisabled})
	require.Nil(t, kerr)
	require.Len(t, buffers, 1)
	require.Len(t, result.B, 1)

	got := make([]byte, len(payload))
	require.Nil(t, to.Space.Read(result.B[0].Addr, got))
	assert.Equal(t, payload, got)

	for _, b := range buffers {
		assert.Nil(t, bufUnmap(b))
	}
}

func TestPassMessageRejectsBBufferOverReadOnlySource(t *testing.T) {
	from, to, cleanup := newTestEndpoints(t)
	defer cleanup()

	require.Nil(t, from.Space.CreateRegularMapping(0x1000_0000, 1, vmm.Read))

	msg := Message{B: []BufSpec{{Addr: 0x1000_0000, Size: 16}}}
	_, buffers, kerr := passMessage(from, to, msg, false, cBufBehavior{kind: cBufDisabled})
	require.NotNil(t, kerr, "a B buffer request over a read-only source mapping must fail")
	assert.Equal(t, kernelerror.InvalidMemState, kerr.Kind)
	assert.Empty(t, buffers)
}

func TestPassMessageXBufferWithSingleCBuf(t *testing.T) {
	from, to, cleanup := newTestEndpoints(t)
	defer cleanup()

	require.Nil(t, from.Space.CreateRegularMapping(0x1000_0000, 1, vmm.Read|vmm.Write))
	require.Nil(t, to.Space.CreateRegularMapping(0x2000_0000, 1, vmm.Read|vmm.Write))
	payload := []byte("x-buffer-data")
	require.Nil(t, from.Space.Write(0x1000_0000, payload))

	cb := cBufBehavior{kind: cBufSingle, single: cBufTarget{Addr: 0x2000_0000, Size: 4096}}
	msg := Message{X: []BufSpec{{Addr: 0x1000_0000, Size: mem.Size(len(payload))}}}
	result, _, kerr := passMessage(from, to, msg, false, cb)
	require.Nil(t, kerr)
	require.Len(t, result.X, 1)

	got := make([]byte, len(payload))
	require.Nil(t, to.Space.Read(result.X[0].Addr, got))
	assert.Equal(t, payload, got)
}

func TestPassMessageXBufferWithoutCBufFails(t *testing.T) {
	from, to, cleanup := newTestEndpoints(t)
	defer cleanup()

	require.Nil(t, from.Space.CreateRegularMapping(0x1000_0000, 1, vmm.Read|vmm.Write))

	msg := Message{X: []BufSpec{{Addr: 0x1000_0000, Size: 16}}}
	_, _, kerr := passMessage(from, to, msg, false, cBufBehavior{kind: cBufDisabled})
	require.NotNil(t, kerr)
}
