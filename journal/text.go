package journal

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// FormatRecord renders r as one line of the human readable log, without
// the trailing newline.
func FormatRecord(r *Record) string {
	var b strings.Builder
	b.WriteString("@" + r.Time.String())
	switch {
	case r.Op == OpDebug:
		b.WriteString(" DEBUG")
	case r.Before:
		b.WriteString(" before " + r.Op.name())
	default:
		b.WriteString(" after " + r.Op.name())
		b.WriteString(" result=" + strconv.Itoa(int(r.Result)))
	}
	writePayload(&b, r.Payload)
	for i, f := range r.Files {
		if i == 0 && r.Op == OpDebug {
			b.WriteString(" " + f)
			continue
		}
		b.WriteString(" [" + f + "]")
	}
	return b.String()
}

// name is the operation name as printed in the text log.
func (o Op) name() string {
	if !o.Valid() {
		return "op" + strconv.Itoa(int(o))
	}
	return opShapes[o].name
}

func writePayload(b *strings.Builder, p Payload) {
	switch p := p.(type) {
	case *Attr:
		writeAttr(b, p)
	case *Region:
		writeRegion(b, p)
	case FileID:
		fmt.Fprintf(b, " id=%d", uint32(p))
	case Size:
		fmt.Fprintf(b, " size=%d", uint64(p))
	case *ACL:
		writeACL(b, p)
	case *XAttr:
		fmt.Fprintf(b, " xattr[%s,%x=%d[", p.Name, p.Flags, len(p.Value))
		for _, c := range p.Value {
			if c > ' ' && c < 0x7f && c != '%' {
				b.WriteByte(c)
			} else {
				fmt.Fprintf(b, "%%%x", c)
			}
		}
		b.WriteString("]]")
	case *Hash:
		writeRegion(b, &p.Region)
		b.WriteString(" hash=" + hex.EncodeToString(p.Sum[:]))
	case *Data:
		r := p.Region
		r.Length = uint64(len(p.Bytes))
		writeRegion(b, &r)
		b.WriteString(" data=" + hex.EncodeToString(p.Bytes))
	}
}

func writeRegion(b *strings.Builder, r *Region) {
	fmt.Fprintf(b, " id=%d start=%d length=%d", uint32(r.FileID), r.Start, r.Length)
}

func writeAttr(b *strings.Builder, a *Attr) {
	if a.Flags&AttrMode != 0 {
		fmt.Fprintf(b, " mode=%o", a.Mode)
	}
	if a.Flags&AttrUser != 0 {
		fmt.Fprintf(b, " uid=%d", a.User)
	}
	if a.Flags&AttrGroup != 0 {
		fmt.Fprintf(b, " gid=%d", a.Group)
	}
	major, minor := a.Device()
	if a.Flags&AttrBlockDev != 0 {
		fmt.Fprintf(b, " bdev=%x:%x", major, minor)
	}
	if a.Flags&AttrCharDev != 0 {
		fmt.Fprintf(b, " cdev=%x:%x", major, minor)
	}
	if a.Flags&AttrSize != 0 {
		fmt.Fprintf(b, " size=%d", a.Size)
	}
	if a.Flags&AttrAtime != 0 {
		b.WriteString(" atime=" + a.Atime.String())
	}
	if a.Flags&AttrMtime != 0 {
		b.WriteString(" mtime=" + a.Mtime.String())
	}
}

func writeACL(b *strings.Builder, a *ACL) {
	if a.Access {
		b.WriteString(" access_acl")
	} else {
		b.WriteString(" default_acl")
	}
	writePerm(b, '=', 'u', "", a.UserObj)
	writePerm(b, ',', 'g', "", a.GroupObj)
	writePerm(b, ',', 'o', "", a.Other)
	writePerm(b, ',', 'm', "", a.Mask)
	for _, e := range a.Entries {
		who := byte('u')
		if e.Group {
			who = 'g'
		}
		writePerm(b, ',', who, strconv.FormatUint(uint64(e.ID), 10), e.Perm)
	}
}

func writePerm(b *strings.Builder, sep, who byte, id string, p ACLPerm) {
	b.WriteByte(sep)
	b.WriteByte(who)
	b.WriteString(":" + id + ":")
	for _, f := range []struct {
		bit ACLPerm
		on  byte
	}{{PermRead, 'r'}, {PermWrite, 'w'}, {PermExecute, 'x'}} {
		if p&f.bit != 0 {
			b.WriteByte(f.on)
		} else {
			b.WriteByte('-')
		}
	}
	if p&PermAdd != 0 {
		b.WriteByte('a')
	}
	if p&PermDelete != 0 {
		b.WriteByte('d')
	}
}
