package tap

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestIfreqFlags(t *testing.T) {
	assert.Equal(t, uintptr(ifreqSize), unsafe.Sizeof(ifreqFlags{}))

	r, err := newIfreqFlags("enet0", unix.IFF_TAP|unix.IFF_NO_PI)
	require.NoError(t, err)
	assert.Equal(t, "enet0", string(r.name[:5]))
	assert.Zero(t, r.name[5])
	assert.Equal(t, uint16(unix.IFF_TAP|unix.IFF_NO_PI), r.flags)

	_, err = newIfreqFlags("", unix.IFF_TAP)
	assert.Error(t, err)
	_, err = newIfreqFlags("0123456789abcdef", unix.IFF_TAP)
	assert.Error(t, err)
	_, err = newIfreqFlags("0123456789abcde", unix.IFF_TAP)
	assert.NoError(t, err)
}
