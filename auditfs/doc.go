// Package auditfs implements a pass-through FUSE filesystem that records
// every change it makes in a shallfs journal.
//
// The filesystem mirrors a directory of an existing filesystem (the fs=
// mount option). Each operation that modifies the tree is logged before it
// runs, after it runs with its result, or both, as selected by the journal's
// log= option. When a before-record cannot be stored the operation is not
// performed and the caller sees the journal error.
//
// Logged operations:
//   - Node creation: MKNOD, MKDIR, CREATE and SYMLINK, with the requested
//     mode and, after the fact, the owner and timestamps of the new node
//   - Namespace changes: LINK, DELETE, RMDIR and MOVE
//   - Attribute changes: META with the changed fields
//   - File contents: OPEN on the first write of a handle, WRITE regions
//     (adjacent writes coalesced in after-mode), or the written bytes
//     themselves with data=data; COMMIT on flush and CLOSE on release
//   - Extended attributes: SET_XATTR, DEL_XATTR and SET_ACL for POSIX ACLs
//
// Credentials attached to records come from the FUSE request header.
package auditfs
