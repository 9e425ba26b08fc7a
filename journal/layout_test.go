package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bitwiseChecksum is a reflected CRC-32 computed one bit at a time.
func bitwiseChecksum(b []byte) uint32 {
	crc := uint32(checksumSeed)
	for _, c := range b {
		crc ^= uint32(c)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0xedb88320
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

func TestChecksum(t *testing.T) {
	for _, in := range []string{"", "a", "SHALL 01", "the quick brown fox jumps over the lazy dog"} {
		assert.Equal(t, bitwiseChecksum([]byte(in)), Checksum([]byte(in)), "input %q", in)
	}
	assert.Equal(t, uint32(checksumSeed), Checksum(nil))
}

func TestSuperblockLocations(t *testing.T) {
	want := []int64{0, 20, 72, 156, 272, 420, 600, 812, 1056}
	for n, b := range want {
		assert.Equal(t, b, SuperblockBlock(n), "superblock %d", n)
	}
	assert.Equal(t, int64(20*BlockSize+3072), SuperblockOffset(1))
	assert.Equal(t, 8, SuperblocksFitting(testDevSize))
	assert.Equal(t, 1, SuperblocksFitting(MinDeviceSize))
}

func sampleSuperblock() *Superblock {
	return &Superblock{
		DeviceSize:     testDevSize,
		DataSpace:      testDevSize - 8*BlockSize,
		DataStart:      4096 * 3,
		DataLength:     1000,
		MaxLength:      5000,
		Version:        42,
		Flags:          FlagValid | FlagDirty,
		Alignment:      8,
		NumSuperblocks: 8,
	}
}

func TestSuperblockEncoding(t *testing.T) {
	sb := sampleSuperblock()
	b := sb.Encode(3)
	require.Len(t, b, SuperblockSize)
	assert.Equal(t, Magic[:], b[0:8])
	assert.Equal(t, Magic[:], b[1012:1020])
	assert.Equal(t, uint64(testDevSize), le.Uint64(b[8:]))
	assert.Equal(t, uint32(3), le.Uint32(b[68:]))

	got := DecodeSuperblock(b)
	assert.Empty(t, got.Problems(3, testDevSize))
	assert.Equal(t, 3, got.Index)
	assert.Equal(t, sb.Version, got.Version)
	assert.Equal(t, sb.DataStart, got.DataStart)
	assert.Equal(t, sb.Flags, got.Flags)
	assert.True(t, got.Same(sb))

	assert.Equal(t, []Rule{RuleIndex}, got.Problems(2, testDevSize))
}

func TestSuperblockByteFlip(t *testing.T) {
	b := sampleSuperblock().Encode(0)
	for i := range b {
		b[i] ^= 0x10
		p := DecodeSuperblock(b).Problems(0, testDevSize)
		if len(p) != 1 || p[0] != RuleChecksum {
			t.Fatalf("flipping byte %d: got %v, want checksum failure", i, p)
		}
		b[i] ^= 0x10
	}
}

func TestSuperblockFix(t *testing.T) {
	sb := sampleSuperblock()
	sb.Flags = 0x40
	sb.Alignment = 13
	sb.MaxLength = 10
	sb.NumSuperblocks = 9

	p := DecodeSuperblock(sb.Encode(0)).Problems(0, testDevSize)
	require.True(t, allFixable(p), "problems %v", p)

	sb.Fix(p)
	assert.Equal(t, FlagValid, sb.Flags)
	assert.Equal(t, 8, sb.Alignment)
	assert.Equal(t, sb.DataLength, sb.MaxLength)
	assert.Equal(t, 8, sb.NumSuperblocks)
	assert.Equal(t, int64(testDevSize-8*BlockSize), sb.DataSpace)
	assert.Empty(t, DecodeSuperblock(sb.Encode(0)).Problems(0, testDevSize))
}

func TestSuperblockUnfixable(t *testing.T) {
	sb := sampleSuperblock()
	sb.DataLength = sb.DataSpace + 1
	p := DecodeSuperblock(sb.Encode(0)).Problems(0, testDevSize)
	assert.Contains(t, p, RuleDataLength)
	assert.False(t, allFixable(p))

	err := DecodeSuperblock(sb.Encode(0)).Validate(0, testDevSize)
	var sbErr *SuperblockError
	require.ErrorAs(t, err, &sbErr)
	assert.ErrorIs(t, err, ErrInvalidSuperblock)
}

func TestSuperFlagsString(t *testing.T) {
	assert.Equal(t, "valid,dirty", (FlagValid | FlagDirty).String())
	assert.Equal(t, "none", SuperFlags(0).String())
	assert.Equal(t, "unknown", SuperFlags(0x80).String())
}

func TestSelectBestPrefersCleanCopy(t *testing.T) {
	dev := newDevice(t)
	base, err := ReadSuperblock(dev, 0)
	require.NoError(t, err)

	dirty := *base
	dirty.Version = 5
	dirty.Flags |= FlagDirty
	require.NoError(t, WriteSuperblock(dev, &dirty, 0, false))
	require.NoError(t, WriteSuperblock(dev, &dirty, 2, false))

	clean := *base
	clean.Version = 5
	clean.Flags &^= FlagDirty
	clean.MaxLength = 128
	require.NoError(t, WriteSuperblock(dev, &clean, 3, false))

	cur, err := ReadSuperblock(dev, 0)
	require.NoError(t, err)
	best := selectBest(dev, cur)
	assert.Equal(t, 3, best.Index)
	assert.Zero(t, best.Flags&FlagDirty)
	assert.Equal(t, int64(128), best.MaxLength)

	// A clean copy already chosen is not replaced by a dirty one.
	require.NoError(t, WriteSuperblock(dev, &dirty, 5, false))
	assert.Equal(t, 3, selectBest(dev, cur).Index)

	newer := dirty
	newer.Version = 6
	require.NoError(t, WriteSuperblock(dev, &newer, 6, false))
	assert.Equal(t, 6, selectBest(dev, cur).Index)
}
