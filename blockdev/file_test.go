//go:build linux

package blockdev

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.img")
	require.NoError(t, Create(path, 8*BlockSize))
	assert.Error(t, Create(path, 8*BlockSize), "existing image is not overwritten")

	d, err := Open(path, false)
	require.NoError(t, err)
	assert.EqualValues(t, 8*BlockSize, d.Size())

	require.NoError(t, d.WriteBlock(7, pattern(0x5a)))
	require.NoError(t, d.Flush())

	_, err = Open(path, false)
	assert.Error(t, err, "second opener must not get the lock")
	require.NoError(t, d.Close())

	ro, err := Open(path, true)
	require.NoError(t, err)
	defer ro.Close()
	buf := make([]byte, BlockSize)
	require.NoError(t, ro.ReadBlock(7, buf))
	assert.Equal(t, pattern(0x5a), buf)
	assert.Error(t, ro.WriteBlock(0, buf))
}
