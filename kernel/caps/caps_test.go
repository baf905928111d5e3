package caps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTripsEncodedDescriptors(t *testing.T) {
	raw := []uint32{
		EncodeSyscallMaskBank(0, []int{1, 5, 23}),
		EncodeSyscallMaskBank(1, []int{24 + 2}),
		EncodeKernelFlags(0, 63, 0, 3),
		EncodeMapNormalPage(0x1234),
		EncodeIOPort(0x60),
		EncodeIRQPair(1, 0x3FF),
		EncodeApplicationType(1),
		EncodeKernelReleaseVersion(7),
		EncodeHandleTableSize(128),
		EncodeDebugFlags(true, false),
	}

	set, err := Parse(raw)
	require.Nil(t, err)

	assert.True(t, set.AllowsSyscall(1))
	assert.True(t, set.AllowsSyscall(5))
	assert.True(t, set.AllowsSyscall(23))
	assert.True(t, set.AllowsSyscall(24+2))
	assert.False(t, set.AllowsSyscall(0))

	assert.Equal(t, uint8(0), set.LowestPriority)
	assert.Equal(t, uint8(63), set.HighestPriority)
	assert.Equal(t, uint8(3), set.HighestCPUID)

	require.Len(t, set.MappedPages, 1)
	assert.Equal(t, uint32(0x1234), set.MappedPages[0])

	require.Len(t, set.IOPorts, 1)
	assert.Equal(t, uint16(0x60), set.IOPorts[0])

	require.Len(t, set.IRQPairs, 1)
	assert.Equal(t, IRQPair{1, 0x3FF}, set.IRQPairs[0])

	assert.Equal(t, uint8(1), set.ApplicationType)
	assert.Equal(t, uint32(7), set.KernelRelease)
	assert.Equal(t, uint32(128), set.HandleTableSize)
	assert.True(t, set.CanBeDebugged)
	assert.False(t, set.CanDebugOthers)
}

func TestParseRejectsUnrecognizedDescriptor(t *testing.T) {
	_, err := Parse([]uint32{0}) // trailing-ones count 0, not a known kind
	require.NotNil(t, err)
}

func TestDefaultHasNoSyscalls(t *testing.T) {
	d := Default()
	for i := 0; i < 32; i++ {
		assert.False(t, d.AllowsSyscall(i))
	}
	assert.Equal(t, uint32(defaultHandleTableSize), d.HandleTableSize)
}
