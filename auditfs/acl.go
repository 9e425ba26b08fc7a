package auditfs

import (
	"encoding/binary"

	"github.com/dendrascience/shallfs/journal"
)

// Extended attributes holding POSIX ACLs, in the kernel's xattr encoding:
// a version word followed by (tag u16, perm u16, id u32) entries.
const (
	aclAccess  = "system.posix_acl_access"
	aclDefault = "system.posix_acl_default"

	aclVersion   = 2
	aclHeaderLen = 4
	aclEntryLen  = 8
)

const (
	aclUserObj  = 0x01
	aclUser     = 0x02
	aclGroupObj = 0x04
	aclGroup    = 0x08
	aclMask     = 0x10
	aclOther    = 0x20
)

// aclPerm maps rwx bits (4, 2, 1) to journal permissions.
func aclPerm(p uint16) journal.ACLPerm {
	var perm journal.ACLPerm
	if p&4 != 0 {
		perm |= journal.PermRead
	}
	if p&2 != 0 {
		perm |= journal.PermWrite
	}
	if p&1 != 0 {
		perm |= journal.PermExecute
	}
	return perm
}

// parseACL decodes value when name is a POSIX ACL attribute. It reports
// false for other attributes and for values it cannot decode, which are
// then logged as plain xattrs.
func parseACL(name string, value []byte) (*journal.ACL, bool) {
	if name != aclAccess && name != aclDefault {
		return nil, false
	}
	if len(value) < aclHeaderLen || (len(value)-aclHeaderLen)%aclEntryLen != 0 {
		return nil, false
	}
	if binary.LittleEndian.Uint32(value) != aclVersion {
		return nil, false
	}
	acl := &journal.ACL{Access: name == aclAccess}
	for b := value[aclHeaderLen:]; len(b) > 0; b = b[aclEntryLen:] {
		tag := binary.LittleEndian.Uint16(b[0:])
		perm := aclPerm(binary.LittleEndian.Uint16(b[2:]))
		id := binary.LittleEndian.Uint32(b[4:])
		switch tag {
		case aclUserObj:
			acl.UserObj = perm
		case aclGroupObj:
			acl.GroupObj = perm
		case aclOther:
			acl.Other = perm
		case aclMask:
			acl.Mask = perm
		case aclUser:
			acl.Entries = append(acl.Entries, journal.ACLEntry{ID: id, Perm: perm})
		case aclGroup:
			acl.Entries = append(acl.Entries, journal.ACLEntry{Group: true, ID: id, Perm: perm})
		default:
			return nil, false
		}
	}
	return acl, true
}
