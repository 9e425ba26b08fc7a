package auditfs

import (
	"os"
	"time"

	"bazil.org/fuse"
	"golang.org/x/sys/unix"

	"github.com/dendrascience/shallfs/journal"
)

// fileMode converts a stat mode to an os.FileMode.
func fileMode(m uint32) os.FileMode {
	mode := os.FileMode(m & 0o777)
	switch m & unix.S_IFMT {
	case unix.S_IFDIR:
		mode |= os.ModeDir
	case unix.S_IFLNK:
		mode |= os.ModeSymlink
	case unix.S_IFIFO:
		mode |= os.ModeNamedPipe
	case unix.S_IFSOCK:
		mode |= os.ModeSocket
	case unix.S_IFBLK:
		mode |= os.ModeDevice
	case unix.S_IFCHR:
		mode |= os.ModeDevice | os.ModeCharDevice
	}
	if m&unix.S_ISUID != 0 {
		mode |= os.ModeSetuid
	}
	if m&unix.S_ISGID != 0 {
		mode |= os.ModeSetgid
	}
	if m&unix.S_ISVTX != 0 {
		mode |= os.ModeSticky
	}
	return mode
}

// permBits returns the permission and special bits of m as a system call
// mode argument.
func permBits(m os.FileMode) uint32 {
	mode := uint32(m.Perm())
	if m&os.ModeSetuid != 0 {
		mode |= unix.S_ISUID
	}
	if m&os.ModeSetgid != 0 {
		mode |= unix.S_ISGID
	}
	if m&os.ModeSticky != 0 {
		mode |= unix.S_ISVTX
	}
	return mode
}

// unixMode converts m back to a stat mode including the file type.
func unixMode(m os.FileMode) uint32 {
	mode := permBits(m)
	switch {
	case m&os.ModeDir != 0:
		mode |= unix.S_IFDIR
	case m&os.ModeSymlink != 0:
		mode |= unix.S_IFLNK
	case m&os.ModeNamedPipe != 0:
		mode |= unix.S_IFIFO
	case m&os.ModeSocket != 0:
		mode |= unix.S_IFSOCK
	case m&os.ModeCharDevice != 0:
		mode |= unix.S_IFCHR
	case m&os.ModeDevice != 0:
		mode |= unix.S_IFBLK
	default:
		mode |= unix.S_IFREG
	}
	return mode
}

func timespecTime(ts unix.Timespec) time.Time {
	return time.Unix(ts.Unix())
}

// fillAttr copies a stat result into a FUSE attribute reply.
func fillAttr(st *unix.Stat_t, a *fuse.Attr) {
	a.Inode = st.Ino
	a.Size = uint64(st.Size)
	a.Blocks = uint64(st.Blocks)
	a.Atime = timespecTime(st.Atim)
	a.Mtime = timespecTime(st.Mtim)
	a.Ctime = timespecTime(st.Ctim)
	a.Mode = fileMode(st.Mode)
	a.Nlink = uint32(st.Nlink)
	a.Uid = st.Uid
	a.Gid = st.Gid
	a.Rdev = uint32(st.Rdev)
	a.BlockSize = uint32(st.Blksize)
}

func direntType(m os.FileMode) fuse.DirentType {
	switch {
	case m.IsDir():
		return fuse.DT_Dir
	case m&os.ModeSymlink != 0:
		return fuse.DT_Link
	case m&os.ModeNamedPipe != 0:
		return fuse.DT_FIFO
	case m&os.ModeSocket != 0:
		return fuse.DT_Socket
	case m&os.ModeCharDevice != 0:
		return fuse.DT_Char
	case m&os.ModeDevice != 0:
		return fuse.DT_Block
	case m.IsRegular():
		return fuse.DT_File
	}
	return fuse.DT_Unknown
}

// statAttr describes the node at path for an after-record: the requested
// fields of base plus owner and timestamps. It returns base unchanged if
// the node cannot be examined.
func statAttr(path string, base *journal.Attr) *journal.Attr {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return base
	}
	a := *base
	a.Flags |= journal.AttrMode | journal.AttrUser | journal.AttrGroup | journal.AttrAtime | journal.AttrMtime
	a.Mode = st.Mode
	a.User = st.Uid
	a.Group = st.Gid
	a.Atime = journal.Now(timespecTime(st.Atim))
	a.Mtime = journal.Now(timespecTime(st.Mtim))
	return &a
}

// deviceAttr returns the ATTR payload requested by a mknod.
func deviceAttr(mode os.FileMode, rdev uint32) *journal.Attr {
	a := &journal.Attr{Flags: journal.AttrMode, Mode: unixMode(mode)}
	if mode&os.ModeDevice == 0 {
		return a
	}
	if mode&os.ModeCharDevice != 0 {
		a.Flags |= journal.AttrCharDev
	} else {
		a.Flags |= journal.AttrBlockDev
	}
	dev := uint64(rdev)
	a.Size = uint64(unix.Major(dev))<<32 | uint64(unix.Minor(dev))
	return a
}
