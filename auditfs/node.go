package auditfs

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"golang.org/x/sys/unix"

	"github.com/dendrascience/shallfs/journal"
)

// node is the part shared by directories and other files: a path relative
// to the mirrored root, attributes and extended attributes.
type node struct {
	fs   *FS
	path string
}

func (n *node) real() string { return filepath.Join(n.fs.root, n.path) }

// name is the path recorded in the journal.
func (n *node) name() string { return "/" + n.path }

func (n *node) child(name string) node {
	return node{fs: n.fs, path: filepath.Join(n.path, name)}
}

// Attr returns the attributes of the mirrored node
func (n *node) Attr(ctx context.Context, a *fuse.Attr) error {
	var st unix.Stat_t
	if err := unix.Lstat(n.real(), &st); err != nil {
		return errno(err)
	}
	fillAttr(&st, a)
	return nil
}

// Setattr changes attributes and logs the changed fields as META
func (n *node) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	attr := &journal.Attr{}
	if req.Valid.Mode() {
		attr.Flags |= journal.AttrMode
		attr.Mode = unixMode(req.Mode)
	}
	if req.Valid.Uid() {
		attr.Flags |= journal.AttrUser
		attr.User = req.Uid
	}
	if req.Valid.Gid() {
		attr.Flags |= journal.AttrGroup
		attr.Group = req.Gid
	}
	if req.Valid.Size() {
		attr.Flags |= journal.AttrSize
		attr.Size = req.Size
	}

	now := time.Now()
	times := []unix.Timespec{{Nsec: unix.UTIME_OMIT}, {Nsec: unix.UTIME_OMIT}}
	if req.Valid.Atime() || req.Valid.AtimeNow() {
		at := req.Atime
		if req.Valid.AtimeNow() {
			at = now
		}
		attr.Flags |= journal.AttrAtime
		attr.Atime = journal.Now(at)
		times[0] = unix.NsecToTimespec(at.UnixNano())
	}
	if req.Valid.Mtime() || req.Valid.MtimeNow() {
		mt := req.Mtime
		if req.Valid.MtimeNow() {
			mt = now
		}
		attr.Flags |= journal.AttrMtime
		attr.Mtime = journal.Now(mt)
		times[1] = unix.NsecToTimespec(mt.UnixNano())
	}

	path := n.real()
	err := n.fs.logged(ctx, credsOf(&req.Header), event{
		op:      journal.OpMeta,
		files:   []string{n.name()},
		payload: attr,
	}, func() error {
		if req.Valid.Mode() {
			if err := unix.Chmod(path, permBits(req.Mode)); err != nil {
				return err
			}
		}
		if req.Valid.Uid() || req.Valid.Gid() {
			uid, gid := -1, -1
			if req.Valid.Uid() {
				uid = int(req.Uid)
			}
			if req.Valid.Gid() {
				gid = int(req.Gid)
			}
			if err := unix.Lchown(path, uid, gid); err != nil {
				return err
			}
		}
		if req.Valid.Size() {
			if err := unix.Truncate(path, int64(req.Size)); err != nil {
				return err
			}
		}
		if attr.Flags&(journal.AttrAtime|journal.AttrMtime) != 0 {
			return unix.UtimesNanoAt(unix.AT_FDCWD, path, times, unix.AT_SYMLINK_NOFOLLOW)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return n.Attr(ctx, &resp.Attr)
}

// Getxattr reads an extended attribute
func (n *node) Getxattr(ctx context.Context, req *fuse.GetxattrRequest, resp *fuse.GetxattrResponse) error {
	size, err := unix.Lgetxattr(n.real(), req.Name, nil)
	if err != nil {
		return errno(err)
	}
	buf := make([]byte, size)
	size, err = unix.Lgetxattr(n.real(), req.Name, buf)
	if err != nil {
		return errno(err)
	}
	resp.Xattr = buf[:size]
	return nil
}

// Listxattr lists extended attribute names
func (n *node) Listxattr(ctx context.Context, req *fuse.ListxattrRequest, resp *fuse.ListxattrResponse) error {
	size, err := unix.Llistxattr(n.real(), nil)
	if err != nil {
		return errno(err)
	}
	buf := make([]byte, size)
	size, err = unix.Llistxattr(n.real(), buf)
	if err != nil {
		return errno(err)
	}
	resp.Xattr = buf[:size]
	return nil
}

// Setxattr sets an extended attribute, logging POSIX ACLs as SET_ACL
func (n *node) Setxattr(ctx context.Context, req *fuse.SetxattrRequest) error {
	ev := event{
		op:    journal.OpSetXattr,
		files: []string{n.name()},
		payload: &journal.XAttr{
			Flags: req.Flags,
			Name:  req.Name,
			Value: req.Xattr,
		},
	}
	if acl, ok := parseACL(req.Name, req.Xattr); ok {
		ev.op, ev.payload = journal.OpSetACL, acl
	}
	return n.fs.logged(ctx, credsOf(&req.Header), ev, func() error {
		return unix.Lsetxattr(n.real(), req.Name, req.Xattr, int(req.Flags))
	})
}

// Removexattr removes an extended attribute
func (n *node) Removexattr(ctx context.Context, req *fuse.RemovexattrRequest) error {
	return n.fs.logged(ctx, credsOf(&req.Header), event{
		op:      journal.OpDelXattr,
		files:   []string{n.name()},
		payload: &journal.XAttr{Name: req.Name},
	}, func() error {
		return unix.Lremovexattr(n.real(), req.Name)
	})
}

// Dir implements Node for mirrored directories
type Dir struct {
	node
}

// lookup returns the node for a child that exists below the mirror.
func (d *Dir) lookup(c node) (fs.Node, error) {
	info, err := os.Lstat(c.real())
	if err != nil {
		return nil, errno(err)
	}
	if info.IsDir() {
		return &Dir{c}, nil
	}
	return &File{c}, nil
}

// Lookup resolves a name in the mirrored directory
func (d *Dir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	return d.lookup(d.child(name))
}

// ReadDirAll lists directory contents
func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	entries, err := os.ReadDir(d.real())
	if err != nil {
		return nil, errno(err)
	}
	dirents := make([]fuse.Dirent, 0, len(entries))
	for _, e := range entries {
		dirent := fuse.Dirent{Name: e.Name(), Type: direntType(e.Type())}
		if info, err := e.Info(); err == nil {
			if st, ok := info.Sys().(*syscall.Stat_t); ok {
				dirent.Inode = st.Ino
			}
		}
		dirents = append(dirents, dirent)
	}
	return dirents, nil
}

// Mkdir creates a directory
func (d *Dir) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fs.Node, error) {
	c := d.child(req.Name)
	attr := &journal.Attr{Flags: journal.AttrMode, Mode: unixMode(req.Mode | os.ModeDir)}
	err := d.fs.logged(ctx, credsOf(&req.Header), event{
		op:      journal.OpMkdir,
		files:   []string{c.name()},
		payload: attr,
		after:   func() journal.Payload { return statAttr(c.real(), attr) },
	}, func() error {
		if err := unix.Mkdir(c.real(), permBits(req.Mode)); err != nil {
			return err
		}
		return d.fs.chown(c.real(), &req.Header)
	})
	if err != nil {
		return nil, err
	}
	return &Dir{c}, nil
}

// Mknod creates a device, fifo or socket node
func (d *Dir) Mknod(ctx context.Context, req *fuse.MknodRequest) (fs.Node, error) {
	c := d.child(req.Name)
	attr := deviceAttr(req.Mode, req.Rdev)
	err := d.fs.logged(ctx, credsOf(&req.Header), event{
		op:      journal.OpMknod,
		files:   []string{c.name()},
		payload: attr,
		after:   func() journal.Payload { return statAttr(c.real(), attr) },
	}, func() error {
		if err := unix.Mknod(c.real(), unixMode(req.Mode), int(req.Rdev)); err != nil {
			return err
		}
		return d.fs.chown(c.real(), &req.Header)
	})
	if err != nil {
		return nil, err
	}
	return &File{c}, nil
}

// Create creates and opens a regular file
func (d *Dir) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fs.Node, fs.Handle, error) {
	c := d.child(req.Name)
	attr := &journal.Attr{Flags: journal.AttrMode, Mode: unixMode(req.Mode)}
	flags := openFlags(req.Flags) | os.O_CREATE
	if req.Flags&fuse.OpenExclusive != 0 {
		attr.Flags |= journal.AttrExcl
		flags |= os.O_EXCL
	}
	var file *os.File
	err := d.fs.logged(ctx, credsOf(&req.Header), event{
		op:      journal.OpCreate,
		files:   []string{c.name()},
		payload: attr,
		after:   func() journal.Payload { return statAttr(c.real(), attr) },
	}, func() error {
		var err error
		file, err = os.OpenFile(c.real(), flags, req.Mode)
		if err != nil {
			return err
		}
		if err := d.fs.chown(c.real(), &req.Header); err != nil {
			file.Close()
			return err
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &File{c}, newHandle(c, file), nil
}

// Symlink creates a symbolic link
func (d *Dir) Symlink(ctx context.Context, req *fuse.SymlinkRequest) (fs.Node, error) {
	c := d.child(req.NewName)
	attr := &journal.Attr{Flags: journal.AttrMode, Mode: unixMode(os.ModeSymlink | 0o777)}
	err := d.fs.logged(ctx, credsOf(&req.Header), event{
		op:      journal.OpSymlink,
		files:   []string{c.name(), req.Target},
		payload: attr,
		after:   func() journal.Payload { return statAttr(c.real(), attr) },
	}, func() error {
		if err := os.Symlink(req.Target, c.real()); err != nil {
			return err
		}
		return d.fs.chown(c.real(), &req.Header)
	})
	if err != nil {
		return nil, err
	}
	return &File{c}, nil
}

// Link creates a hard link to old
func (d *Dir) Link(ctx context.Context, req *fuse.LinkRequest, old fs.Node) (fs.Node, error) {
	target, ok := old.(*File)
	if !ok {
		return nil, fuse.Errno(syscall.EPERM)
	}
	c := d.child(req.NewName)
	err := d.fs.logged(ctx, credsOf(&req.Header), event{
		op:    journal.OpLink,
		files: []string{target.name(), c.name()},
	}, func() error {
		return os.Link(target.real(), c.real())
	})
	if err != nil {
		return nil, err
	}
	return &File{c}, nil
}

// Remove deletes a file or an empty directory
func (d *Dir) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	c := d.child(req.Name)
	ev := event{op: journal.OpDelete, files: []string{c.name()}}
	rm := unix.Unlink
	if req.Dir {
		ev.op, rm = journal.OpRmdir, unix.Rmdir
	}
	return d.fs.logged(ctx, credsOf(&req.Header), ev, func() error {
		return rm(c.real())
	})
}

// Rename moves a name to another directory
func (d *Dir) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fs.Node) error {
	dst, ok := newDir.(*Dir)
	if !ok {
		return fuse.Errno(syscall.EXDEV)
	}
	from, to := d.child(req.OldName), dst.child(req.NewName)
	return d.fs.logged(ctx, credsOf(&req.Header), event{
		op:    journal.OpMove,
		files: []string{from.name(), to.name()},
	}, func() error {
		return os.Rename(from.real(), to.real())
	})
}

// File implements Node for everything that is not a directory
type File struct {
	node
}

// Readlink returns the target of a symbolic link
func (f *File) Readlink(ctx context.Context, req *fuse.ReadlinkRequest) (string, error) {
	target, err := os.Readlink(f.real())
	return target, errno(err)
}

// Open opens the mirrored file
func (f *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	file, err := os.OpenFile(f.real(), openFlags(req.Flags), 0)
	if err != nil {
		return nil, errno(err)
	}
	return newHandle(f.node, file), nil
}

// Fsync forces the mirrored file to stable storage
func (f *File) Fsync(ctx context.Context, req *fuse.FsyncRequest) error {
	file, err := os.Open(f.real())
	if err != nil {
		return errno(err)
	}
	defer file.Close()
	return errno(file.Sync())
}

// openFlags strips the flags the kernel has already handled. Writes
// arrive with explicit offsets, so O_APPEND is dropped too.
func openFlags(fl fuse.OpenFlags) int {
	return int(fl) &^ (os.O_CREATE | os.O_EXCL | os.O_APPEND)
}
