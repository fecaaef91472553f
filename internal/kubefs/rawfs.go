package kubefs

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/giantswarm/kubefs/internal/resource"
	"github.com/giantswarm/kubefs/internal/tree"
)

// statusUnsupported answers every request the filesystem refuses.
const statusUnsupported = fuse.Status(syscall.ENOTSUP)

// rawFS binds FS to go-fuse's inode-level protocol. Every request handler
// translates the wire structs, calls FS and replies exactly once. Requests
// without a handler here, among them Access, Lseek, Ioctl and Statx, fall
// through to the embedded default implementation, which answers ENOSYS.
type rawFS struct {
	fuse.RawFileSystem

	fs *FS
}

var _ fuse.RawFileSystem = (*rawFS)(nil)

func newRawFS(fs *FS) *rawFS {
	return &rawFS{
		RawFileSystem: fuse.NewDefaultRawFileSystem(),
		fs:            fs,
	}
}

func (r *rawFS) String() string {
	return "kubefs"
}

func (r *rawFS) Init(*fuse.Server) {}

func (r *rawFS) SetDebug(bool) {}

func (r *rawFS) Lookup(cancel <-chan struct{}, header *fuse.InHeader, name string, out *fuse.EntryOut) fuse.Status {
	entry, errno := r.fs.Lookup(context.Background(), header.NodeId, name)
	if errno == syscall.ENOENT && r.fs.NegativeTimeout() > 0 {
		// NodeId 0 with a validity window is a miss the kernel may cache;
		// the caller still sees ENOENT.
		out.NodeId = 0
		out.SetEntryTimeout(r.fs.NegativeTimeout())
		return fuse.OK
	}
	if errno != 0 {
		return fuse.Status(errno)
	}
	r.fillEntry(entry.Attributes, out)
	return fuse.OK
}

// Forget needs no bookkeeping: inodes are derived, not allocated.
func (r *rawFS) Forget(nodeid, nlookup uint64) {}

func (r *rawFS) GetAttr(cancel <-chan struct{}, input *fuse.GetAttrIn, out *fuse.AttrOut) fuse.Status {
	attrs, errno := r.fs.GetAttr(context.Background(), input.NodeId)
	if errno != 0 {
		return fuse.Status(errno)
	}
	fillAttr(attrs, &out.Attr)
	out.SetTimeout(r.fs.AttrTimeout())
	return fuse.OK
}

func (r *rawFS) Open(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	if errno := r.fs.Open(context.Background(), input.NodeId, input.Flags); errno != 0 {
		return fuse.Status(errno)
	}
	out.Fh = 0
	// Content is a pure function of the inode.
	out.OpenFlags = fuse.FOPEN_KEEP_CACHE
	return fuse.OK
}

func (r *rawFS) Read(cancel <-chan struct{}, input *fuse.ReadIn, buf []byte) (fuse.ReadResult, fuse.Status) {
	size := int(input.Size)
	if size > len(buf) {
		size = len(buf)
	}
	data, errno := r.fs.Read(context.Background(), input.NodeId, int64(input.Offset), size)
	if errno != 0 {
		return nil, fuse.Status(errno)
	}
	n := copy(buf, data)
	return fuse.ReadResultData(buf[:n]), fuse.OK
}

func (r *rawFS) Release(cancel <-chan struct{}, input *fuse.ReleaseIn) {}

// Flush is called on every close(2); a read-only descriptor has nothing to
// flush and the close must succeed.
func (r *rawFS) Flush(cancel <-chan struct{}, input *fuse.FlushIn) fuse.Status {
	return fuse.OK
}

func (r *rawFS) OpenDir(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	if errno := r.fs.OpenDir(context.Background(), input.NodeId); errno != 0 {
		return fuse.Status(errno)
	}
	out.Fh = 0
	return fuse.OK
}

func (r *rawFS) ReadDir(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	entries, errno := r.fs.ReadDir(context.Background(), input.NodeId, input.Offset)
	if errno != 0 {
		return fuse.Status(errno)
	}
	for _, e := range entries {
		if !out.AddDirEntry(toFuseDirEntry(e)) {
			break
		}
	}
	return fuse.OK
}

func (r *rawFS) ReadDirPlus(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	ctx := context.Background()
	entries, errno := r.fs.ReadDirPlus(ctx, input.NodeId, input.Offset)
	if errno != 0 {
		return fuse.Status(errno)
	}
	for _, e := range entries {
		entryOut := out.AddDirLookupEntry(toFuseDirEntry(e))
		if entryOut == nil {
			break
		}
		// "." and ".." must not be looked up: the kernel does not count
		// them as references.
		if e.Name == "." || e.Name == ".." {
			continue
		}
		attrs, errno := r.fs.GetAttr(ctx, e.Inode)
		if errno != 0 {
			continue
		}
		r.fillEntry(attrs, entryOut)
	}
	return fuse.OK
}

func (r *rawFS) ReleaseDir(input *fuse.ReleaseIn) {}

func (r *rawFS) StatFs(cancel <-chan struct{}, input *fuse.InHeader, out *fuse.StatfsOut) fuse.Status {
	stats := r.fs.StatFs(context.Background())
	*out = fuse.StatfsOut{
		Files:   stats.Files,
		Bsize:   tree.BlockSize,
		Frsize:  tree.BlockSize,
		NameLen: stats.NameLen,
	}
	return fuse.OK
}

// Extended attributes are not kept.

func (r *rawFS) GetXAttr(cancel <-chan struct{}, header *fuse.InHeader, attr string, dest []byte) (uint32, fuse.Status) {
	return 0, statusUnsupported
}

func (r *rawFS) ListXAttr(cancel <-chan struct{}, header *fuse.InHeader, dest []byte) (uint32, fuse.Status) {
	return 0, statusUnsupported
}

func (r *rawFS) Readlink(cancel <-chan struct{}, header *fuse.InHeader) ([]byte, fuse.Status) {
	return nil, statusUnsupported
}

// Mutations. Each one is refused with ENOTSUP whatever its arguments.

func (r *rawFS) refuse(op string, ino uint64) fuse.Status {
	return fuse.Status(r.fs.Refuse(context.Background(), op, ino))
}

func (r *rawFS) SetAttr(cancel <-chan struct{}, input *fuse.SetAttrIn, out *fuse.AttrOut) fuse.Status {
	return r.refuse("setattr", input.NodeId)
}

func (r *rawFS) Mknod(cancel <-chan struct{}, input *fuse.MknodIn, name string, out *fuse.EntryOut) fuse.Status {
	return r.refuse("mknod", input.NodeId)
}

func (r *rawFS) Mkdir(cancel <-chan struct{}, input *fuse.MkdirIn, name string, out *fuse.EntryOut) fuse.Status {
	return r.refuse("mkdir", input.NodeId)
}

func (r *rawFS) Unlink(cancel <-chan struct{}, header *fuse.InHeader, name string) fuse.Status {
	return r.refuse("unlink", header.NodeId)
}

func (r *rawFS) Rmdir(cancel <-chan struct{}, header *fuse.InHeader, name string) fuse.Status {
	return r.refuse("rmdir", header.NodeId)
}

func (r *rawFS) Rename(cancel <-chan struct{}, input *fuse.RenameIn, oldName string, newName string) fuse.Status {
	return r.refuse("rename", input.NodeId)
}

func (r *rawFS) Link(cancel <-chan struct{}, input *fuse.LinkIn, name string, out *fuse.EntryOut) fuse.Status {
	return r.refuse("link", input.NodeId)
}

func (r *rawFS) Symlink(cancel <-chan struct{}, header *fuse.InHeader, pointedTo string, linkName string, out *fuse.EntryOut) fuse.Status {
	return r.refuse("symlink", header.NodeId)
}

func (r *rawFS) SetXAttr(cancel <-chan struct{}, input *fuse.SetXAttrIn, attr string, data []byte) fuse.Status {
	return r.refuse("setxattr", input.NodeId)
}

func (r *rawFS) RemoveXAttr(cancel <-chan struct{}, header *fuse.InHeader, attr string) fuse.Status {
	return r.refuse("removexattr", header.NodeId)
}

func (r *rawFS) Create(cancel <-chan struct{}, input *fuse.CreateIn, name string, out *fuse.CreateOut) fuse.Status {
	return r.refuse("create", input.NodeId)
}

func (r *rawFS) Write(cancel <-chan struct{}, input *fuse.WriteIn, data []byte) (uint32, fuse.Status) {
	return 0, r.refuse("write", input.NodeId)
}

func (r *rawFS) CopyFileRange(cancel <-chan struct{}, input *fuse.CopyFileRangeIn) (uint32, fuse.Status) {
	return 0, r.refuse("copy_file_range", input.NodeId)
}

func (r *rawFS) Fallocate(cancel <-chan struct{}, input *fuse.FallocateIn) fuse.Status {
	return r.refuse("fallocate", input.NodeId)
}

func (r *rawFS) Fsync(cancel <-chan struct{}, input *fuse.FsyncIn) fuse.Status {
	return r.refuse("fsync", input.NodeId)
}

func (r *rawFS) FsyncDir(cancel <-chan struct{}, input *fuse.FsyncIn) fuse.Status {
	return r.refuse("fsyncdir", input.NodeId)
}

func (r *rawFS) GetLk(cancel <-chan struct{}, input *fuse.LkIn, out *fuse.LkOut) fuse.Status {
	return r.refuse("getlk", input.NodeId)
}

func (r *rawFS) SetLk(cancel <-chan struct{}, input *fuse.LkIn) fuse.Status {
	return r.refuse("setlk", input.NodeId)
}

func (r *rawFS) SetLkw(cancel <-chan struct{}, input *fuse.LkIn) fuse.Status {
	return r.refuse("setlkw", input.NodeId)
}

func (r *rawFS) fillEntry(attrs tree.Attributes, out *fuse.EntryOut) {
	out.NodeId = attrs.Inode
	out.Generation = 1
	fillAttr(attrs, &out.Attr)
	out.SetEntryTimeout(r.fs.EntryTimeout())
	out.SetAttrTimeout(r.fs.AttrTimeout())
}

func fillAttr(attrs tree.Attributes, out *fuse.Attr) {
	out.Ino = attrs.Inode
	out.Mode = modeOf(attrs.EntryType) | attrs.Perm
	out.Nlink = attrs.Nlink
	out.Size = attrs.Size
	out.Blocks = attrs.Blocks()
	out.Blksize = tree.BlockSize
	out.Owner = fuse.Owner{Uid: attrs.Uid, Gid: attrs.Gid}
	mtime := attrs.Mtime
	out.SetTimes(&mtime, &mtime, &mtime)
}

func toFuseDirEntry(e DirEntry) fuse.DirEntry {
	return fuse.DirEntry{
		Name: e.Name,
		Ino:  e.Inode,
		Mode: modeOf(e.EntryType),
		Off:  e.Offset,
	}
}

func modeOf(t resource.EntryType) uint32 {
	switch t {
	case resource.Directory:
		return syscall.S_IFDIR
	case resource.File:
		return syscall.S_IFREG
	default:
		panic("kubefs: unhandled entry type " + t.String())
	}
}
