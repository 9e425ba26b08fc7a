package journal

import (
	"fmt"
	"time"
)

// RecordFlags names the optional sections present in a record. Bits 8-15
// hold the payload DataType.
type RecordFlags uint32

const (
	HasFile1 RecordFlags = 1 << iota
	HasFile2
	HasCreds
)

// DataType returns the payload type encoded in f.
func (f RecordFlags) DataType() DataType { return DataType(f) & dataTypeMask }

// Creds are the credentials of the process that requested an operation.
type Creds struct {
	UID, EUID, FSUID uint64
	GID, EGID, FSGID uint64
}

// Header is the decoded fixed part of a record.
type Header struct {
	Length int
	Op     Op
	Before bool
	Time   Timespec
	Result int32
	Flags  RecordFlags
}

// Record is one journal event.
type Record struct {
	Op      Op
	Before  bool
	Time    Timespec
	Result  int32
	Creds   *Creds
	Files   []string
	Payload Payload
}

// DecodeError reports why bytes could not be decoded as a record.
type DecodeError struct {
	Offset int64
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("record at offset %d: %v", e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Now returns t in journal timestamp form.
func Now(t time.Time) Timespec {
	return Timespec{Sec: t.Unix(), Nsec: uint32(t.Nanosecond())}
}

// Time converts ts to a time.Time.
func (ts Timespec) Time() time.Time {
	return time.Unix(ts.Sec, int64(ts.Nsec))
}

func (ts Timespec) String() string {
	return fmt.Sprintf("%d.%09d", ts.Sec, ts.Nsec)
}

func (r *Record) check() error {
	if !r.Op.Valid() || (r.Op == OpDebug && r.Before) {
		return fmt.Errorf("%w: operation %d", ErrInvalidRecord, int32(r.Op))
	}
	if len(r.Files) > 2 {
		return fmt.Errorf("%w: %d names", ErrInvalidRecord, len(r.Files))
	}
	if _, ok := r.Payload.(*Hash); ok {
		return ErrHashUnsupported
	}
	return nil
}

func (r *Record) flags() RecordFlags {
	var f RecordFlags
	if r.Creds != nil {
		f |= HasCreds
	}
	if len(r.Files) > 0 {
		f |= HasFile1
	}
	if len(r.Files) > 1 {
		f |= HasFile2
	}
	if r.Payload != nil {
		f |= RecordFlags(r.Payload.Type())
	}
	return f
}

// rawLen is the encoded length before alignment padding.
func (r *Record) rawLen() int {
	n := HeaderSize
	if r.Creds != nil {
		n += CredsSize
	}
	for _, f := range r.Files[:min(len(r.Files), 2)] {
		n += 4 + len(f)
	}
	if r.Payload != nil {
		n += r.Payload.encodedLen()
	}
	return n
}

// EncodedLen returns the size of r on disk with the given alignment.
func (r *Record) EncodedLen(align int) int {
	return roundUp(r.rawLen(), align)
}

// Encode returns r encoded with the given alignment.
func (r *Record) Encode(align int) []byte {
	b := make([]byte, r.EncodedLen(align))
	r.encodeTo(b)
	return b
}

// encodeTo writes r into b, which must be exactly EncodedLen long and
// zeroed past the sections.
func (r *Record) encodeTo(b []byte) {
	op := int32(r.Op)
	if r.Before {
		op = -op
	}
	le.PutUint32(b[0:], uint32(len(b)))
	le.PutUint32(b[4:], uint32(op))
	le.PutUint64(b[8:], uint64(r.Time.Sec))
	le.PutUint32(b[16:], r.Time.Nsec)
	le.PutUint32(b[20:], uint32(r.Result))
	le.PutUint32(b[24:], uint32(r.flags()))
	le.PutUint32(b[headerCRCLen:], Checksum(b[:headerCRCLen]))

	p := HeaderSize
	if c := r.Creds; c != nil {
		for i, v := range [6]uint64{c.UID, c.EUID, c.FSUID, c.GID, c.EGID, c.FSGID} {
			le.PutUint64(b[p+8*i:], v)
		}
		p += CredsSize
	}
	for _, f := range r.Files[:min(len(r.Files), 2)] {
		le.PutUint32(b[p:], uint32(len(f)))
		p += 4 + copy(b[p+4:], f)
	}
	if r.Payload != nil {
		r.Payload.put(b[p:])
		p += r.Payload.encodedLen()
	}
	clear(b[p:])
}

// DecodeHeader validates and parses the first HeaderSize bytes of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, &DecodeError{Err: ErrTruncated}
	}
	if Checksum(b[:headerCRCLen]) != le.Uint32(b[headerCRCLen:]) {
		return Header{}, &DecodeError{Err: ErrBadChecksum}
	}
	h := Header{
		Length: int(le.Uint32(b[0:])),
		Time:   Timespec{Sec: int64(le.Uint64(b[8:])), Nsec: le.Uint32(b[16:])},
		Result: int32(le.Uint32(b[20:])),
		Flags:  RecordFlags(le.Uint32(b[24:])),
	}
	op := int32(le.Uint32(b[4:]))
	if op < 0 {
		h.Before = true
		op = -op
	}
	h.Op = Op(op)
	if h.Length < HeaderSize {
		return Header{}, &DecodeError{Err: ErrTruncated}
	}
	return h, nil
}

// Decode parses the record at the start of b and returns it with its
// encoded length.
func Decode(b []byte) (*Record, int, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return nil, 0, err
	}
	if h.Length > len(b) {
		return nil, 0, &DecodeError{Err: ErrTruncated}
	}
	body := b[HeaderSize:h.Length]
	r := &Record{Op: h.Op, Before: h.Before, Time: h.Time, Result: h.Result}

	if h.Flags&HasCreds != 0 {
		if len(body) < CredsSize {
			return nil, 0, &DecodeError{Err: ErrTruncated}
		}
		r.Creds = &Creds{
			UID: le.Uint64(body[0:]), EUID: le.Uint64(body[8:]), FSUID: le.Uint64(body[16:]),
			GID: le.Uint64(body[24:]), EGID: le.Uint64(body[32:]), FSGID: le.Uint64(body[40:]),
		}
		body = body[CredsSize:]
	}
	for _, bit := range []RecordFlags{HasFile1, HasFile2} {
		if h.Flags&bit == 0 {
			continue
		}
		if len(body) < 4 {
			return nil, 0, &DecodeError{Err: ErrTruncated}
		}
		n := int(le.Uint32(body))
		if n < 0 || 4+n > len(body) {
			return nil, 0, &DecodeError{Err: ErrTruncated}
		}
		r.Files = append(r.Files, string(body[4:4+n]))
		body = body[4+n:]
	}
	if r.Payload, err = decodePayload(h.Flags.DataType(), body); err != nil {
		return nil, 0, &DecodeError{Err: err}
	}
	return r, h.Length, nil
}
