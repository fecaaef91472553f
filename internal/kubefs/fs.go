package kubefs

import (
	"context"
	"errors"
	"log/slog"
	"syscall"
	"time"

	"github.com/giantswarm/kubefs/internal/logging"
	"github.com/giantswarm/kubefs/internal/resource"
	"github.com/giantswarm/kubefs/internal/tree"
)

// Defaults for Options.
const (
	DefaultEntryTimeout = time.Second
	DefaultAttrTimeout  = time.Second
	DefaultMaxReadSize  = 64 * 1024
)

// NameMax is the longest path segment reported by StatFs. Kubernetes object
// names are at most 253 bytes.
const NameMax = 255

// Operation names used for logging and metrics.
const (
	OpLookup      = "lookup"
	OpGetAttr     = "getattr"
	OpReadDir     = "readdir"
	OpReadDirPlus = "readdirplus"
	OpRead        = "read"
	OpOpen        = "open"
	OpOpenDir     = "opendir"
	OpStatFs      = "statfs"
	OpMutation    = "mutation"
)

// OperationRecorder receives one observation per served request.
// instrumentation.Metrics implements it.
type OperationRecorder interface {
	RecordFuseOperation(ctx context.Context, operation, status string, duration time.Duration)
}

// Options configures an FS.
type Options struct {
	// EntryTimeout is how long the kernel may cache a name lookup.
	EntryTimeout time.Duration
	// AttrTimeout is how long the kernel may cache attributes.
	AttrTimeout time.Duration
	// NegativeTimeout is how long the kernel may cache a failed lookup.
	// Zero disables negative caching.
	NegativeTimeout time.Duration
	// MaxReadSize caps the bytes returned by a single read.
	MaxReadSize int

	Logger   *slog.Logger
	Recorder OperationRecorder
}

func (o *Options) applyDefaults() {
	if o.EntryTimeout <= 0 {
		o.EntryTimeout = DefaultEntryTimeout
	}
	if o.AttrTimeout <= 0 {
		o.AttrTimeout = DefaultAttrTimeout
	}
	if o.NegativeTimeout < 0 {
		o.NegativeTimeout = 0
	}
	if o.MaxReadSize <= 0 {
		o.MaxReadSize = DefaultMaxReadSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Entry is a resolved name: the inode plus its attributes.
type Entry struct {
	Name       string
	Attributes tree.Attributes
}

// DirEntry is one row of a directory listing. Offset is the 1-based cursor
// a client passes back to resume after this entry.
type DirEntry struct {
	Name      string
	Inode     uint64
	EntryType resource.EntryType
	Offset    uint64
}

// StatFs is the filesystem summary.
type StatFs struct {
	Files   uint64
	NameLen uint32
}

// FS answers filesystem requests from a tree.Store.
type FS struct {
	store *tree.Store
	opts  Options
}

// New returns an FS serving store.
func New(store *tree.Store, opts Options) *FS {
	opts.applyDefaults()
	return &FS{store: store, opts: opts}
}

// Options returns the effective options.
func (f *FS) Options() Options {
	return f.opts
}

// Lookup resolves name inside the directory parent.
func (f *FS) Lookup(ctx context.Context, parent uint64, name string) (Entry, syscall.Errno) {
	start := time.Now()

	child, found, err := f.store.LookupChild(ctx, parent, name)
	if err != nil {
		f.failed(ctx, OpLookup, parent, err)
		return done(f, ctx, OpLookup, start, Entry{}, syscall.ENOENT)
	}
	if !found {
		return done(f, ctx, OpLookup, start, Entry{}, syscall.ENOENT)
	}
	attrs, ok := f.store.AttributesOf(child.Inode)
	if !ok {
		return done(f, ctx, OpLookup, start, Entry{}, syscall.ENOENT)
	}
	return done(f, ctx, OpLookup, start, Entry{Name: name, Attributes: attrs}, 0)
}

// GetAttr returns the attributes of ino.
func (f *FS) GetAttr(ctx context.Context, ino uint64) (tree.Attributes, syscall.Errno) {
	start := time.Now()
	attrs, ok := f.store.AttributesOf(ino)
	if !ok {
		return done(f, ctx, OpGetAttr, start, tree.Attributes{}, syscall.ENOENT)
	}
	return done(f, ctx, OpGetAttr, start, attrs, 0)
}

// ReadDir lists ino as [".", "..", children...] and returns the entries
// after the first offset. An offset at or past the end yields an empty
// listing, not an error. Leaves list only "." and "..".
func (f *FS) ReadDir(ctx context.Context, ino uint64, offset uint64) ([]DirEntry, syscall.Errno) {
	return f.readDir(ctx, OpReadDir, ino, offset)
}

// ReadDirPlus is ReadDir for clients that want attributes alongside each
// name. The listing is the same.
func (f *FS) ReadDirPlus(ctx context.Context, ino uint64, offset uint64) ([]DirEntry, syscall.Errno) {
	return f.readDir(ctx, OpReadDirPlus, ino, offset)
}

func (f *FS) readDir(ctx context.Context, op string, ino uint64, offset uint64) ([]DirEntry, syscall.Errno) {
	start := time.Now()

	parent, ok := f.store.ParentOf(ino)
	if !ok {
		return done(f, ctx, op, start, []DirEntry(nil), syscall.ENOENT)
	}
	children, err := f.store.ChildrenOf(ctx, ino)
	if err != nil {
		f.failed(ctx, op, ino, err)
		return done(f, ctx, op, start, []DirEntry(nil), syscall.ENOENT)
	}

	selfType := resource.Directory
	if r, ok := f.store.Resource(ino); ok {
		selfType = r.EntryType
	}

	all := make([]DirEntry, 0, len(children)+2)
	all = append(all,
		DirEntry{Name: ".", Inode: ino, EntryType: selfType},
		DirEntry{Name: "..", Inode: parent, EntryType: resource.Directory},
	)
	for _, child := range children {
		all = append(all, DirEntry{Name: child.Name(), Inode: child.Inode, EntryType: child.Resource.EntryType})
	}
	for i := range all {
		all[i].Offset = uint64(i + 1)
	}

	if offset >= uint64(len(all)) {
		return done(f, ctx, op, start, []DirEntry{}, 0)
	}
	return done(f, ctx, op, start, all[offset:], 0)
}

// Read returns up to size bytes of ino's payload starting at offset. Reads
// are capped at MaxReadSize; reading past the end returns no data.
func (f *FS) Read(ctx context.Context, ino uint64, offset int64, size int) ([]byte, syscall.Errno) {
	start := time.Now()

	r, ok := f.store.Resource(ino)
	if !ok {
		if ino == resource.RootInode {
			return done(f, ctx, OpRead, start, []byte(nil), syscall.EISDIR)
		}
		return done(f, ctx, OpRead, start, []byte(nil), syscall.ENOENT)
	}
	if r.IsDir() {
		return done(f, ctx, OpRead, start, []byte(nil), syscall.EISDIR)
	}

	content := tree.Content(r)
	if offset < 0 || offset >= int64(len(content)) {
		return done(f, ctx, OpRead, start, []byte{}, 0)
	}
	if size > f.opts.MaxReadSize {
		size = f.opts.MaxReadSize
	}
	end := offset + int64(size)
	if end > int64(len(content)) {
		end = int64(len(content))
	}
	return done(f, ctx, OpRead, start, content[offset:end], 0)
}

// Open acknowledges an open of a file. No handle state is kept. Opens that
// ask for write access or truncation are mutation attempts.
func (f *FS) Open(ctx context.Context, ino uint64, flags uint32) syscall.Errno {
	start := time.Now()

	attrs, ok := f.store.AttributesOf(ino)
	if !ok {
		return f.doneErrno(ctx, OpOpen, start, syscall.ENOENT)
	}
	if attrs.EntryType == resource.Directory {
		return f.doneErrno(ctx, OpOpen, start, syscall.EISDIR)
	}
	if wantsWrite(flags) {
		return f.doneErrno(ctx, OpOpen, start, syscall.ENOTSUP)
	}
	return f.doneErrno(ctx, OpOpen, start, 0)
}

// OpenDir acknowledges an open of a directory.
func (f *FS) OpenDir(ctx context.Context, ino uint64) syscall.Errno {
	start := time.Now()

	if _, ok := f.store.AttributesOf(ino); !ok {
		return f.doneErrno(ctx, OpOpenDir, start, syscall.ENOENT)
	}
	return f.doneErrno(ctx, OpOpenDir, start, 0)
}

// StatFs summarizes the filesystem. No blocks are ever allocated.
func (f *FS) StatFs(ctx context.Context) StatFs {
	start := time.Now()
	stats := f.store.Stats()
	out := StatFs{
		// root + namespaces + pods seen so far
		Files:   uint64(1 + stats.Namespaces + stats.Pods),
		NameLen: NameMax,
	}
	f.record(ctx, OpStatFs, 0, time.Since(start))
	return out
}

// Refuse answers a mutating request. It always returns ENOTSUP.
func (f *FS) Refuse(ctx context.Context, op string, ino uint64) syscall.Errno {
	f.opts.Logger.Debug("refused mutating request", logging.Operation(op), logging.Inode(ino))
	f.record(ctx, OpMutation, syscall.ENOTSUP, 0)
	return syscall.ENOTSUP
}

// EntryTimeout returns the lookup validity window.
func (f *FS) EntryTimeout() time.Duration { return f.opts.EntryTimeout }

// AttrTimeout returns the attribute validity window.
func (f *FS) AttrTimeout() time.Duration { return f.opts.AttrTimeout }

// NegativeTimeout returns the failed-lookup validity window.
func (f *FS) NegativeTimeout() time.Duration { return f.opts.NegativeTimeout }

func (f *FS) failed(ctx context.Context, op string, ino uint64, err error) {
	level := slog.LevelWarn
	if errors.Is(err, tree.ErrNotFound) {
		level = slog.LevelDebug
	}
	f.opts.Logger.Log(ctx, level, "request failed",
		logging.Operation(op),
		logging.Inode(ino),
		logging.SanitizedErr(err))
}

func (f *FS) record(ctx context.Context, op string, errno syscall.Errno, d time.Duration) {
	status := statusOf(errno)
	if f.opts.Logger.Enabled(ctx, slog.LevelDebug) {
		f.opts.Logger.DebugContext(ctx, "fuse request",
			logging.Operation(op),
			logging.Status(status),
			logging.Duration(d))
	}
	if f.opts.Recorder != nil {
		f.opts.Recorder.RecordFuseOperation(ctx, op, status, d)
	}
}

func (f *FS) doneErrno(ctx context.Context, op string, start time.Time, errno syscall.Errno) syscall.Errno {
	f.record(ctx, op, errno, time.Since(start))
	return errno
}

// done records the outcome of op and passes its results through.
func done[T any](f *FS, ctx context.Context, op string, start time.Time, v T, errno syscall.Errno) (T, syscall.Errno) {
	f.record(ctx, op, errno, time.Since(start))
	return v, errno
}

// statusOf names an errno for metrics labels.
func statusOf(errno syscall.Errno) string {
	switch errno {
	case 0:
		return "ok"
	case syscall.ENOENT:
		return "enoent"
	case syscall.ENOTSUP:
		return "enotsup"
	case syscall.EISDIR:
		return "eisdir"
	default:
		return "error"
	}
}

func wantsWrite(flags uint32) bool {
	accmode := flags & syscall.O_ACCMODE
	if accmode == syscall.O_WRONLY || accmode == syscall.O_RDWR {
		return true
	}
	return flags&(syscall.O_TRUNC|syscall.O_APPEND|syscall.O_CREAT) != 0
}
