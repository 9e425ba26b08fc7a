package journal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dendrascience/shallfs/blockdev"
)

func TestCheckClean(t *testing.T) {
	dev := unmountedWithRecords(t)
	rep, code := Check(dev, CheckOptions{Log: quietLog()})
	assert.Equal(t, ExitOK, code)
	assert.False(t, rep.Scanned)
	assert.Equal(t, "clean", CheckStatus(code))

	rep, code = Check(dev, CheckOptions{Force: true, Log: quietLog()})
	assert.Equal(t, ExitOK, code)
	assert.True(t, rep.Scanned)
	assert.Equal(t, int64(4), rep.Records)
	assert.Empty(t, rep.Corrected)
}

func TestCheckAfterCrash(t *testing.T) {
	dev := newDevice(t)
	j := mount(t, dev, testOptions())
	require.NoError(t, j.Append(context.Background(), &Record{Op: OpUserlog, Files: []string{"x"}}))
	require.NoError(t, j.Commit())
	crashed := dev.Snapshot()

	rep, code := Check(crashed, CheckOptions{Log: quietLog()})
	assert.Equal(t, ExitCorrected, code)
	assert.Len(t, rep.Corrected, 8)
	assert.Equal(t, int64(2), rep.Records)
	assert.Equal(t, "cleaned", CheckStatus(code))

	sb, err := ReadSuperblock(crashed, 0)
	require.NoError(t, err)
	assert.Zero(t, sb.Flags&FlagDirty)
	_, code = Check(crashed, CheckOptions{Log: quietLog()})
	assert.Equal(t, ExitOK, code)
}

func TestCheckRepairsPrimary(t *testing.T) {
	dev := unmountedWithRecords(t)
	require.NoError(t, dev.WriteBlock(0, make([]byte, BlockSize)))

	readOnly := dev.Snapshot()
	rep, code := Check(readOnly, CheckOptions{ReadOnly: true, Log: quietLog()})
	assert.Equal(t, ExitUncorrected, code)
	assert.Contains(t, rep.Uncorrected, 0)
	_, err := ReadSuperblock(readOnly, 0)
	assert.Error(t, err)

	rep, code = Check(dev, CheckOptions{Log: quietLog()})
	assert.Equal(t, ExitCorrected, code)
	assert.Contains(t, rep.Corrected, 0)
	_, err = ReadSuperblock(dev, 0)
	assert.NoError(t, err)
}

func TestCheckRescuesFixableCopies(t *testing.T) {
	dev := newDevice(t)
	sb, err := ReadSuperblock(dev, 0)
	require.NoError(t, err)
	sb.Alignment = 12
	for n := 0; n < 8; n++ {
		require.NoError(t, WriteSuperblock(dev, sb, n, false))
	}

	_, code := Check(dev.Snapshot(), CheckOptions{Auto: true, Log: quietLog()})
	assert.Equal(t, ExitUncorrected, code, "auto mode does not rescue")

	rep, code := Check(dev, CheckOptions{Log: quietLog()})
	assert.Equal(t, ExitCorrected, code)
	assert.True(t, rep.Rescued)
	assert.Equal(t, []Rule{RuleAlignment}, rep.Fixed)
	assert.Len(t, rep.Corrected, 8)

	sb, err = ReadSuperblock(dev, 0)
	require.NoError(t, err)
	assert.Equal(t, 8, sb.Alignment)
}

func TestCheckInterruptedUpdate(t *testing.T) {
	dev := newDevice(t)
	sb, err := ReadSuperblock(dev, 0)
	require.NoError(t, err)
	sb.Flags |= FlagUpdate
	require.NoError(t, WriteSuperblock(dev, sb, 0, false))

	rep, code := Check(dev, CheckOptions{Log: quietLog()})
	assert.Equal(t, ExitOperational, code)
	assert.ErrorIs(t, rep.Err, ErrUpdating)
}

func TestCheckFindsBadRecord(t *testing.T) {
	dev := unmountedWithRecords(t)
	block := make([]byte, BlockSize)
	require.NoError(t, dev.ReadBlock(1, block))
	block[5] ^= 0xff
	require.NoError(t, dev.WriteBlock(1, block))

	rep, code := Check(dev, CheckOptions{Force: true, Log: quietLog()})
	assert.Equal(t, ExitUncorrected, code)
	assert.Error(t, rep.BadRecord)
	assert.Equal(t, "has errors", CheckStatus(code))

	_, code = Check(dev, CheckOptions{Force: true, Auto: true, Log: quietLog()})
	assert.Equal(t, ExitOK, code, "auto mode skips the record scan")
}

func TestCheckNothingUsable(t *testing.T) {
	rep, code := Check(blockdev.NewMemory(testDevSize), CheckOptions{Log: quietLog()})
	assert.Equal(t, ExitUncorrected, code)
	assert.ErrorIs(t, rep.Err, ErrNoSuperblock)
	assert.Equal(t, "no usable superblock", rep.String())
}
