package journal

import (
	"hash/crc32"

	"github.com/dendrascience/shallfs/blockdev"
)

// On-disk geometry.
const (
	BlockSize = blockdev.BlockSize

	// SuperblockSize is the encoded size of one superblock copy, stored at
	// the end of its block.
	SuperblockSize   = 1024
	superblockInset  = BlockSize - SuperblockSize
	superblockCRCLen = SuperblockSize - 4

	// HeaderSize is the size of a record header.
	HeaderSize   = 32
	headerCRCLen = HeaderSize - 4

	// CredsSize is the size of the optional credentials section.
	CredsSize = 48

	// MinSuperblocks is the smallest acceptable number of superblock copies.
	// Format and mount share it, so every formatted device mounts.
	MinSuperblocks = 8
	// MinDeviceSize is the smallest device that can hold a journal.
	MinDeviceSize = 16 * BlockSize
	// DefaultAlignment is the record alignment written by Format.
	DefaultAlignment = 8

	// checksumSeed is "SHAL" read as a little-endian word.
	checksumSeed = 0x4c414853
)

// Magic identifies the format at both ends of every superblock.
var Magic = [8]byte{'S', 'H', 'A', 'L', 'L', ' ', '0', '1'}

// SuperFlags is the superblock state bitmask.
type SuperFlags uint32

const (
	FlagValid  SuperFlags = 1 << iota // copy holds usable metadata
	FlagDirty                         // journal mounted, copies may disagree
	FlagUpdate                        // resize in progress

	knownSuperFlags = FlagValid | FlagDirty | FlagUpdate
)

func (f SuperFlags) String() string {
	s := ""
	add := func(name string) {
		if s != "" {
			s += ","
		}
		s += name
	}
	if f&FlagValid != 0 {
		add("valid")
	}
	if f&FlagDirty != 0 {
		add("dirty")
	}
	if f&FlagUpdate != 0 {
		add("update")
	}
	if f&^knownSuperFlags != 0 {
		add("unknown")
	}
	if s == "" {
		return "none"
	}
	return s
}

// Checksum computes the format checksum: reflected CRC-32 with a fixed seed
// and no final inversion.
func Checksum(b []byte) uint32 {
	return ^crc32.Update(^uint32(checksumSeed), crc32.IEEETable, b)
}

// SuperblockBlock returns the physical block number holding superblock n.
// Spacing grows linearly with n.
func SuperblockBlock(n int) int64 {
	m := int64(n)
	return m * 4 * (4*m + 1)
}

// SuperblockOffset returns the byte offset of superblock n on the device.
func SuperblockOffset(n int) int64 {
	return SuperblockBlock(n)*BlockSize + superblockInset
}

// SuperblocksFitting returns how many superblock locations lie inside a
// device of the given size.
func SuperblocksFitting(size int64) int {
	n := 0
	for SuperblockOffset(n) < size {
		n++
	}
	return n
}

// Superblock is one decoded metadata copy.
type Superblock struct {
	DeviceSize     int64
	DataSpace      int64
	DataStart      int64
	DataLength     int64
	MaxLength      int64
	Version        uint64
	Flags          SuperFlags
	Alignment      int
	NumSuperblocks int
	Index          int

	// Reserved for a resize plan; carried through unchanged.
	NewSize        int64
	NewAlignment   int
	NewSuperblocks int

	magic1, magic2 [8]byte
	checksumOK     bool
}

// Encode returns the SuperblockSize-byte image of sb stored as copy n.
func (sb *Superblock) Encode(n int) []byte {
	b := make([]byte, SuperblockSize)
	copy(b[0:8], Magic[:])
	le.PutUint64(b[8:], uint64(sb.DeviceSize))
	le.PutUint64(b[16:], uint64(sb.DataSpace))
	le.PutUint64(b[24:], uint64(sb.DataStart))
	le.PutUint64(b[32:], uint64(sb.DataLength))
	le.PutUint64(b[40:], uint64(sb.MaxLength))
	le.PutUint64(b[48:], sb.Version)
	le.PutUint32(b[56:], uint32(sb.Flags))
	le.PutUint32(b[60:], uint32(sb.Alignment))
	le.PutUint32(b[64:], uint32(sb.NumSuperblocks))
	le.PutUint32(b[68:], uint32(n))
	le.PutUint64(b[768:], uint64(sb.NewSize))
	le.PutUint32(b[776:], uint32(sb.NewAlignment))
	le.PutUint32(b[780:], uint32(sb.NewSuperblocks))
	copy(b[1012:1020], Magic[:])
	le.PutUint32(b[superblockCRCLen:], Checksum(b[:superblockCRCLen]))
	return b
}

// DecodeSuperblock parses a SuperblockSize-byte image without validating it.
func DecodeSuperblock(b []byte) *Superblock {
	sb := &Superblock{
		DeviceSize:     int64(le.Uint64(b[8:])),
		DataSpace:      int64(le.Uint64(b[16:])),
		DataStart:      int64(le.Uint64(b[24:])),
		DataLength:     int64(le.Uint64(b[32:])),
		MaxLength:      int64(le.Uint64(b[40:])),
		Version:        le.Uint64(b[48:]),
		Flags:          SuperFlags(le.Uint32(b[56:])),
		Alignment:      int(le.Uint32(b[60:])),
		NumSuperblocks: int(le.Uint32(b[64:])),
		Index:          int(le.Uint32(b[68:])),
		NewSize:        int64(le.Uint64(b[768:])),
		NewAlignment:   int(le.Uint32(b[776:])),
		NewSuperblocks: int(le.Uint32(b[780:])),
		checksumOK:     le.Uint32(b[superblockCRCLen:]) == Checksum(b[:superblockCRCLen]),
	}
	copy(sb.magic1[:], b[0:8])
	copy(sb.magic2[:], b[1012:1020])
	return sb
}

// Same reports whether two copies describe the same journal geometry.
// Copies written at different times legitimately differ in version and
// ring position.
func (sb *Superblock) Same(o *Superblock) bool {
	return sb.DeviceSize == o.DeviceSize &&
		sb.DataSpace == o.DataSpace &&
		sb.Alignment == o.Alignment &&
		sb.NumSuperblocks == o.NumSuperblocks
}

func roundUp(n, align int) int {
	return (n + align - 1) / align * align
}
