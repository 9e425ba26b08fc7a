package journal

import (
	"io"

	"github.com/pkg/errors"

	"github.com/dendrascience/shallfs/blockdev"
)

// Scanner iterates over stored records, either in the data area of an
// unmounted device or in a file of binary records.
type Scanner struct {
	fill   func(p []byte) error
	offset int64
	align  int

	raw []byte
	rec *Record
	err error
}

// Inspect selects the superblock of an unmounted device the way a mount
// would and returns it with a scanner over its records.
func Inspect(dev blockdev.Device) (*Superblock, *Scanner, error) {
	sb, err := loadSuperblock(dev)
	if err != nil {
		return nil, nil, err
	}
	return sb, NewScanner(dev, sb), nil
}

// NewScanner returns a scanner over the records described by sb.
func NewScanner(dev blockdev.Device, sb *Superblock) *Scanner {
	geo := Geometry{DataSpace: sb.DataSpace, NumSuperblocks: sb.NumSuperblocks}
	ptr := geo.PointerAt(sb.DataStart)
	left := sb.DataLength
	block := make([]byte, BlockSize)
	loaded := int64(-1)
	s := &Scanner{align: sb.Alignment}
	s.fill = func(p []byte) error {
		switch {
		case len(p) == 0:
			return nil
		case left == 0:
			return io.EOF
		case int64(len(p)) > left:
			return ErrTruncated
		}
		for len(p) > 0 {
			if ptr.Block != loaded {
				if err := dev.ReadBlock(ptr.Block, block); err != nil {
					return errors.Wrapf(err, "failed to read block %d", ptr.Block)
				}
				loaded = ptr.Block
			}
			n := copy(p, block[ptr.Offset:])
			ptr = geo.Advance(ptr, int64(n))
			left -= int64(n)
			p = p[n:]
		}
		return nil
	}
	return s
}

// NewStreamScanner returns a scanner over binary records read from r, as
// produced by a journal reader.
func NewStreamScanner(r io.Reader) *Scanner {
	s := &Scanner{}
	s.fill = func(p []byte) error {
		_, err := io.ReadFull(r, p)
		if err == io.ErrUnexpectedEOF {
			return ErrTruncated
		}
		return err
	}
	return s
}

// Next advances to the next record. It returns false at the end of the
// records or on error. The fill function returns io.EOF only when no
// bytes remain.
func (s *Scanner) Next() bool {
	if s.err != nil {
		return false
	}
	s.rec, s.raw = nil, nil
	hdr := make([]byte, HeaderSize)
	if err := s.fill(hdr); err != nil {
		if err != io.EOF {
			s.err = &DecodeError{Offset: s.offset, Err: err}
		}
		return false
	}
	h, err := DecodeHeader(hdr)
	if err == nil && s.align > 0 && h.Length%s.align != 0 {
		err = &DecodeError{Err: ErrTruncated}
	}
	if err != nil {
		err.(*DecodeError).Offset = s.offset
		s.err = err
		return false
	}
	raw := make([]byte, h.Length)
	copy(raw, hdr)
	if err := s.fill(raw[HeaderSize:]); err != nil {
		if err == io.EOF {
			err = ErrTruncated
		}
		s.err = &DecodeError{Offset: s.offset, Err: err}
		return false
	}
	rec, _, err := Decode(raw)
	if err != nil {
		err.(*DecodeError).Offset = s.offset
		s.err = err
		return false
	}
	s.raw, s.rec = raw, rec
	s.offset += int64(h.Length)
	return true
}

// Record returns the current record.
func (s *Scanner) Record() *Record { return s.rec }

// Raw returns the encoded form of the current record.
func (s *Scanner) Raw() []byte { return s.raw }

// Offset returns the bytes scanned before the next record.
func (s *Scanner) Offset() int64 { return s.offset }

// Err returns the error that stopped the scan, if any.
func (s *Scanner) Err() error { return s.err }
