package journal

import (
	"encoding/binary"
	"fmt"
)

// DataType is the payload selector stored in bits 8-15 of record flags.
type DataType uint32

const (
	DataNone   DataType = 0
	DataFileID DataType = 0x0100
	DataAttr   DataType = 0x0200
	DataXattr  DataType = 0x0400
	DataRegion DataType = 0x0800
	DataSize   DataType = 0x1000
	DataACL    DataType = 0x2000
	DataHash   DataType = 0x4000
	DataData   DataType = 0x8000

	dataTypeMask = 0xff00
)

var dataTypeNames = map[DataType]string{
	DataNone:   "none",
	DataFileID: "fileid",
	DataAttr:   "attr",
	DataXattr:  "xattr",
	DataRegion: "region",
	DataSize:   "size",
	DataACL:    "acl",
	DataHash:   "hash",
	DataData:   "data",
}

func (d DataType) String() string {
	if s, ok := dataTypeNames[d]; ok {
		return s
	}
	return fmt.Sprintf("data(%#x)", uint32(d))
}

// Payload is the typed section of a record.
type Payload interface {
	Type() DataType
	encodedLen() int
	put(b []byte)
}

var le = binary.LittleEndian

// FileID identifies an open file handle across OPEN, WRITE, COMMIT and CLOSE.
type FileID uint32

func (FileID) Type() DataType  { return DataFileID }
func (FileID) encodedLen() int { return 4 }
func (f FileID) put(b []byte)  { le.PutUint32(b, uint32(f)) }

// Size carries a byte count: the space needed by a too-big record or the
// bytes lost during an overflow.
type Size uint64

func (Size) Type() DataType  { return DataSize }
func (Size) encodedLen() int { return 8 }
func (s Size) put(b []byte)  { le.PutUint64(b, uint64(s)) }

// Timespec is a seconds and nanoseconds timestamp.
type Timespec struct {
	Sec  int64
	Nsec uint32
}

// AttrFlags says which Attr fields are meaningful.
type AttrFlags uint32

const (
	AttrMode AttrFlags = 1 << iota
	AttrUser
	AttrGroup
	AttrBlockDev
	AttrCharDev
	AttrSize
	AttrAtime
	AttrMtime
	AttrExcl
)

// Attr describes an attribute change or the attributes of a new node.
// For device nodes Size holds the device number as major<<32 | minor.
type Attr struct {
	Flags AttrFlags
	Mode  uint32
	User  uint32
	Group uint32
	Size  uint64
	Atime Timespec
	Mtime Timespec
}

const attrLen = 48

func (*Attr) Type() DataType  { return DataAttr }
func (*Attr) encodedLen() int { return attrLen }
func (a *Attr) put(b []byte) {
	le.PutUint32(b[0:], uint32(a.Flags))
	le.PutUint32(b[4:], a.Mode)
	le.PutUint32(b[8:], a.User)
	le.PutUint32(b[12:], a.Group)
	le.PutUint64(b[16:], a.Size)
	le.PutUint64(b[24:], uint64(a.Atime.Sec))
	le.PutUint64(b[32:], uint64(a.Mtime.Sec))
	le.PutUint32(b[40:], a.Atime.Nsec)
	le.PutUint32(b[44:], a.Mtime.Nsec)
}

func decodeAttr(b []byte) *Attr {
	return &Attr{
		Flags: AttrFlags(le.Uint32(b[0:])),
		Mode:  le.Uint32(b[4:]),
		User:  le.Uint32(b[8:]),
		Group: le.Uint32(b[12:]),
		Size:  le.Uint64(b[16:]),
		Atime: Timespec{Sec: int64(le.Uint64(b[24:])), Nsec: le.Uint32(b[40:])},
		Mtime: Timespec{Sec: int64(le.Uint64(b[32:])), Nsec: le.Uint32(b[44:])},
	}
}

// Device splits Size into a device number for block and char nodes.
func (a *Attr) Device() (major, minor uint32) {
	return uint32(a.Size >> 32), uint32(a.Size)
}

// Region is a byte range written to an open file.
type Region struct {
	Start  uint64
	Length uint64
	FileID FileID
}

const regionLen = 20

func (*Region) Type() DataType  { return DataRegion }
func (*Region) encodedLen() int { return regionLen }
func (r *Region) put(b []byte) {
	le.PutUint64(b[0:], r.Start)
	le.PutUint64(b[8:], r.Length)
	le.PutUint32(b[16:], uint32(r.FileID))
}

func decodeRegion(b []byte) Region {
	return Region{
		Start:  le.Uint64(b[0:]),
		Length: le.Uint64(b[8:]),
		FileID: FileID(le.Uint32(b[16:])),
	}
}

// End returns the offset just past the region.
func (r *Region) End() uint64 { return r.Start + r.Length }

// XAttr is an extended attribute change. Value is empty for removals.
type XAttr struct {
	Flags uint32
	Name  string
	Value []byte
}

func (*XAttr) Type() DataType    { return DataXattr }
func (x *XAttr) encodedLen() int { return 12 + len(x.Name) + len(x.Value) }
func (x *XAttr) put(b []byte) {
	le.PutUint32(b[0:], x.Flags)
	le.PutUint32(b[4:], uint32(len(x.Name)))
	le.PutUint32(b[8:], uint32(len(x.Value)))
	n := copy(b[12:], x.Name)
	copy(b[12+n:], x.Value)
}

// ACLPerm is a set of ACL permission bits.
type ACLPerm uint32

const (
	PermRead ACLPerm = 1 << iota
	PermWrite
	PermExecute
	PermAdd
	PermDelete

	permMask ACLPerm = 0x7f
)

const (
	aclAccessBit = 1 << 28
	aclGroupBit  = 1 << 28
)

// ACLEntry grants Perm to a named user, or a named group when Group is set.
type ACLEntry struct {
	Group bool
	ID    uint32
	Perm  ACLPerm
}

// ACL is a POSIX access control list. The owner, owning group, other and
// mask entries are packed into one word on disk.
type ACL struct {
	Access   bool
	UserObj  ACLPerm
	GroupObj ACLPerm
	Other    ACLPerm
	Mask     ACLPerm
	Entries  []ACLEntry
}

func (*ACL) Type() DataType    { return DataACL }
func (a *ACL) encodedLen() int { return 8 + 8*len(a.Entries) }
func (a *ACL) put(b []byte) {
	perm := uint32(a.UserObj&permMask) |
		uint32(a.GroupObj&permMask)<<7 |
		uint32(a.Other&permMask)<<14 |
		uint32(a.Mask&permMask)<<21
	if a.Access {
		perm |= aclAccessBit
	}
	le.PutUint32(b[0:], uint32(len(a.Entries)))
	le.PutUint32(b[4:], perm)
	for i, e := range a.Entries {
		t := uint32(e.Perm & permMask)
		if e.Group {
			t |= aclGroupBit
		}
		le.PutUint32(b[8+8*i:], t)
		le.PutUint32(b[12+8*i:], e.ID)
	}
}

// Hash records a content hash of a region. Producing these is not
// supported; the type exists so such records can be decoded.
type Hash struct {
	Region
	Sum [32]byte
}

func (*Hash) Type() DataType  { return DataHash }
func (*Hash) encodedLen() int { return regionLen + 32 }
func (h *Hash) put(b []byte) {
	h.Region.put(b)
	copy(b[regionLen:], h.Sum[:])
}

// Data is a region together with the bytes written to it.
type Data struct {
	Region
	Bytes []byte
}

func (*Data) Type() DataType    { return DataData }
func (d *Data) encodedLen() int { return regionLen + len(d.Bytes) }
func (d *Data) put(b []byte) {
	r := d.Region
	r.Length = uint64(len(d.Bytes))
	r.put(b)
	copy(b[regionLen:], d.Bytes)
}

// decodePayload parses a payload of type t filling b exactly or as a prefix.
func decodePayload(t DataType, b []byte) (Payload, error) {
	need := func(n int) error {
		if len(b) < n {
			return ErrTruncated
		}
		return nil
	}
	switch t {
	case DataNone:
		return nil, nil
	case DataFileID:
		if err := need(4); err != nil {
			return nil, err
		}
		return FileID(le.Uint32(b)), nil
	case DataSize:
		if err := need(8); err != nil {
			return nil, err
		}
		return Size(le.Uint64(b)), nil
	case DataAttr:
		if err := need(attrLen); err != nil {
			return nil, err
		}
		return decodeAttr(b), nil
	case DataRegion:
		if err := need(regionLen); err != nil {
			return nil, err
		}
		r := decodeRegion(b)
		return &r, nil
	case DataXattr:
		if err := need(12); err != nil {
			return nil, err
		}
		nl, vl := int(le.Uint32(b[4:])), int(le.Uint32(b[8:]))
		if nl < 0 || vl < 0 || 12+nl+vl > len(b) {
			return nil, ErrTruncated
		}
		return &XAttr{
			Flags: le.Uint32(b[0:]),
			Name:  string(b[12 : 12+nl]),
			Value: cloneBytes(b[12+nl : 12+nl+vl]),
		}, nil
	case DataACL:
		if err := need(8); err != nil {
			return nil, err
		}
		count := int(le.Uint32(b[0:]))
		if count < 0 || 8+8*count > len(b) {
			return nil, ErrTruncated
		}
		perm := le.Uint32(b[4:])
		a := &ACL{
			Access:   perm&aclAccessBit != 0,
			UserObj:  ACLPerm(perm) & permMask,
			GroupObj: ACLPerm(perm>>7) & permMask,
			Other:    ACLPerm(perm>>14) & permMask,
			Mask:     ACLPerm(perm>>21) & permMask,
		}
		for i := 0; i < count; i++ {
			t := le.Uint32(b[8+8*i:])
			a.Entries = append(a.Entries, ACLEntry{
				Group: t&aclGroupBit != 0,
				ID:    le.Uint32(b[12+8*i:]),
				Perm:  ACLPerm(t) & permMask,
			})
		}
		return a, nil
	case DataHash:
		if err := need(regionLen + 32); err != nil {
			return nil, err
		}
		h := &Hash{Region: decodeRegion(b)}
		copy(h.Sum[:], b[regionLen:])
		return h, nil
	case DataData:
		if err := need(regionLen); err != nil {
			return nil, err
		}
		r := decodeRegion(b)
		if r.Length > uint64(len(b)-regionLen) {
			return nil, ErrTruncated
		}
		return &Data{Region: r, Bytes: cloneBytes(b[regionLen : regionLen+int(r.Length)])}, nil
	}
	return nil, ErrUnknownType
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}
