package kubefs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/giantswarm/kubefs/internal/logging"
	"github.com/giantswarm/kubefs/internal/resource"
	"github.com/giantswarm/kubefs/internal/tree"
)

type fakeFetcher struct {
	namespaces []string
	pods       map[string][]string
	podsErr    error
	gate       chan struct{}
	podCalls   atomic.Int32
}

func (f *fakeFetcher) ListNamespaces(ctx context.Context) ([]string, error) {
	return f.namespaces, nil
}

func (f *fakeFetcher) ListPods(ctx context.Context, namespace string) ([]string, error) {
	f.podCalls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.podsErr != nil {
		return nil, f.podsErr
	}
	return f.pods[namespace], nil
}

type observation struct {
	operation string
	status    string
}

type fakeRecorder struct {
	mu   sync.Mutex
	seen []observation
}

func (r *fakeRecorder) RecordFuseOperation(ctx context.Context, operation, status string, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, observation{operation: operation, status: status})
}

func (r *fakeRecorder) observations() []observation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]observation(nil), r.seen...)
}

func defaultCluster() *fakeFetcher {
	return &fakeFetcher{
		namespaces: []string{"default", "kube-system"},
		pods: map[string][]string{
			"default":     {"web-1"},
			"kube-system": {"coredns-abc", "etcd-0"},
		},
	}
}

func newTestFS(t *testing.T, f tree.Fetcher, opts Options) *FS {
	t.Helper()
	store := tree.New(f, tree.WithLogger(logging.Discard()))
	require.NoError(t, store.Initialize(context.Background()))
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return New(store, opts)
}

func dirNames(entries []DirEntry) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names
}

var defaultNS = resource.NewNamespace("default").Inode()

func TestNewAppliesDefaults(t *testing.T) {
	fs := newTestFS(t, defaultCluster(), Options{})
	opts := fs.Options()
	assert.Equal(t, DefaultEntryTimeout, opts.EntryTimeout)
	assert.Equal(t, DefaultAttrTimeout, opts.AttrTimeout)
	assert.Equal(t, DefaultMaxReadSize, opts.MaxReadSize)
	assert.Zero(t, opts.NegativeTimeout)
}

func TestReadDirRoot(t *testing.T) {
	fs := newTestFS(t, defaultCluster(), Options{})

	entries, errno := fs.ReadDir(context.Background(), resource.RootInode, 0)
	require.Zero(t, errno)
	require.Len(t, entries, 4)
	assert.Equal(t, []string{".", "..", "default", "kube-system"}, dirNames(entries))

	for i, e := range entries {
		assert.Equal(t, uint64(i+1), e.Offset, e.Name)
		assert.Equal(t, resource.Directory, e.EntryType, e.Name)
	}
	assert.Equal(t, resource.RootInode, entries[0].Inode)
	assert.Equal(t, resource.RootInode, entries[1].Inode)
	assert.Equal(t, defaultNS, entries[2].Inode)
}

func TestReadDirIsStable(t *testing.T) {
	fs := newTestFS(t, defaultCluster(), Options{})

	first, errno := fs.ReadDir(context.Background(), resource.RootInode, 0)
	require.Zero(t, errno)
	second, errno := fs.ReadDir(context.Background(), resource.RootInode, 0)
	require.Zero(t, errno)
	assert.Equal(t, first, second)
}

func TestReadDirOffsets(t *testing.T) {
	fs := newTestFS(t, defaultCluster(), Options{})

	tests := []struct {
		name   string
		offset uint64
		want   []string
	}{
		{name: "from start", offset: 0, want: []string{".", "..", "default", "kube-system"}},
		{name: "resume after dot", offset: 1, want: []string{"..", "default", "kube-system"}},
		{name: "last entry", offset: 3, want: []string{"kube-system"}},
		{name: "at end", offset: 4, want: []string{}},
		{name: "past end", offset: 100, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, errno := fs.ReadDir(context.Background(), resource.RootInode, tt.offset)
			require.Zero(t, errno)
			assert.Equal(t, tt.want, dirNames(entries))
			if len(entries) > 0 {
				assert.Equal(t, tt.offset+1, entries[0].Offset)
			}
		})
	}
}

func TestReadDirNamespace(t *testing.T) {
	fs := newTestFS(t, defaultCluster(), Options{})

	entries, errno := fs.ReadDir(context.Background(), resource.NewNamespace("kube-system").Inode(), 0)
	require.Zero(t, errno)
	assert.Equal(t, []string{".", "..", "coredns-abc", "etcd-0"}, dirNames(entries))
	assert.Equal(t, resource.RootInode, entries[1].Inode, "parent of a namespace is the root")
	assert.Equal(t, resource.File, entries[2].EntryType)
	assert.Equal(t, resource.NewPod("kube-system", "coredns-abc").Inode(), entries[2].Inode)
}

func TestReadDirLeaf(t *testing.T) {
	fs := newTestFS(t, defaultCluster(), Options{})
	_, errno := fs.ReadDir(context.Background(), defaultNS, 0)
	require.Zero(t, errno)

	entries, errno := fs.ReadDir(context.Background(), resource.NewPod("default", "web-1").Inode(), 0)
	require.Zero(t, errno)
	assert.Equal(t, []string{".", ".."}, dirNames(entries))
	assert.Equal(t, resource.File, entries[0].EntryType, "a leaf lists itself as a file")
	assert.Equal(t, resource.Directory, entries[1].EntryType)
	assert.Equal(t, defaultNS, entries[1].Inode)
}

func TestReadDirUnknown(t *testing.T) {
	fs := newTestFS(t, defaultCluster(), Options{})
	_, errno := fs.ReadDir(context.Background(), 42, 0)
	assert.Equal(t, syscall.ENOENT, errno)
}

func TestReadDirFetchFailure(t *testing.T) {
	f := defaultCluster()
	f.podsErr = errors.New("dial tcp 10.0.0.1:6443: connection refused")
	fs := newTestFS(t, f, Options{})

	_, errno := fs.ReadDir(context.Background(), defaultNS, 0)
	assert.Equal(t, syscall.ENOENT, errno)

	f.podsErr = nil
	entries, errno := fs.ReadDir(context.Background(), defaultNS, 0)
	require.Zero(t, errno)
	assert.Equal(t, []string{".", "..", "web-1"}, dirNames(entries))
	assert.Equal(t, int32(2), f.podCalls.Load())
}

func TestLookupRoundTrip(t *testing.T) {
	fs := newTestFS(t, defaultCluster(), Options{})
	ctx := context.Background()

	listing, errno := fs.ReadDir(ctx, resource.RootInode, 0)
	require.Zero(t, errno)

	for _, e := range listing[2:] {
		entry, errno := fs.Lookup(ctx, resource.RootInode, e.Name)
		require.Zero(t, errno, e.Name)
		assert.Equal(t, e.Inode, entry.Attributes.Inode, e.Name)
		assert.Equal(t, resource.Directory, entry.Attributes.EntryType)
	}
}

func TestLookupPods(t *testing.T) {
	fs := newTestFS(t, defaultCluster(), Options{})
	ctx := context.Background()

	entry, errno := fs.Lookup(ctx, defaultNS, "web-1")
	require.Zero(t, errno)
	assert.Equal(t, resource.File, entry.Attributes.EntryType)
	assert.Equal(t, tree.FilePerm, entry.Attributes.Perm)
	assert.Equal(t, resource.NewPod("default", "web-1").Inode(), entry.Attributes.Inode)

	_, errno = fs.Lookup(ctx, defaultNS, "missing")
	assert.Equal(t, syscall.ENOENT, errno)

	_, errno = fs.Lookup(ctx, 42, "web-1")
	assert.Equal(t, syscall.ENOENT, errno)
}

func TestGetAttr(t *testing.T) {
	fs := newTestFS(t, defaultCluster(), Options{})

	attrs, errno := fs.GetAttr(context.Background(), resource.RootInode)
	require.Zero(t, errno)
	assert.Equal(t, resource.Directory, attrs.EntryType)

	_, errno = fs.GetAttr(context.Background(), 42)
	assert.Equal(t, syscall.ENOENT, errno)
}

func TestRead(t *testing.T) {
	fs := newTestFS(t, defaultCluster(), Options{MaxReadSize: 8})
	ctx := context.Background()
	_, errno := fs.ReadDir(ctx, defaultNS, 0)
	require.Zero(t, errno)

	pod := resource.NewPod("default", "web-1")
	content := tree.Content(pod)

	t.Run("capped at max read size", func(t *testing.T) {
		data, errno := fs.Read(ctx, pod.Inode(), 0, 4096)
		require.Zero(t, errno)
		assert.Equal(t, content[:8], data)
	})

	t.Run("offset slices payload", func(t *testing.T) {
		data, errno := fs.Read(ctx, pod.Inode(), 6, 4)
		require.Zero(t, errno)
		assert.Equal(t, content[6:10], data)
	})

	t.Run("tail is short", func(t *testing.T) {
		off := int64(len(content) - 3)
		data, errno := fs.Read(ctx, pod.Inode(), off, 8)
		require.Zero(t, errno)
		assert.Equal(t, content[off:], data)
	})

	t.Run("past end is empty", func(t *testing.T) {
		data, errno := fs.Read(ctx, pod.Inode(), int64(len(content)), 8)
		require.Zero(t, errno)
		assert.Empty(t, data)
	})

	t.Run("directory", func(t *testing.T) {
		_, errno := fs.Read(ctx, defaultNS, 0, 8)
		assert.Equal(t, syscall.EISDIR, errno)
	})

	t.Run("root", func(t *testing.T) {
		_, errno := fs.Read(ctx, resource.RootInode, 0, 8)
		assert.Equal(t, syscall.EISDIR, errno)
	})

	t.Run("unknown", func(t *testing.T) {
		_, errno := fs.Read(ctx, 42, 0, 8)
		assert.Equal(t, syscall.ENOENT, errno)
	})
}

func TestOpen(t *testing.T) {
	fs := newTestFS(t, defaultCluster(), Options{})
	ctx := context.Background()
	_, errno := fs.ReadDir(ctx, defaultNS, 0)
	require.Zero(t, errno)
	pod := resource.NewPod("default", "web-1").Inode()

	tests := []struct {
		name  string
		ino   uint64
		flags uint32
		want  syscall.Errno
	}{
		{name: "read only", ino: pod, flags: syscall.O_RDONLY, want: 0},
		{name: "write only", ino: pod, flags: syscall.O_WRONLY, want: syscall.ENOTSUP},
		{name: "read write", ino: pod, flags: syscall.O_RDWR, want: syscall.ENOTSUP},
		{name: "truncate", ino: pod, flags: syscall.O_RDONLY | syscall.O_TRUNC, want: syscall.ENOTSUP},
		{name: "append", ino: pod, flags: syscall.O_APPEND, want: syscall.ENOTSUP},
		{name: "directory", ino: defaultNS, flags: syscall.O_RDONLY, want: syscall.EISDIR},
		{name: "unknown", ino: 42, flags: syscall.O_RDONLY, want: syscall.ENOENT},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fs.Open(ctx, tt.ino, tt.flags))
		})
	}

	assert.Zero(t, fs.OpenDir(ctx, defaultNS))
	assert.Zero(t, fs.OpenDir(ctx, resource.RootInode))
	assert.Equal(t, syscall.ENOENT, fs.OpenDir(ctx, 42))
}

func TestStatFs(t *testing.T) {
	fs := newTestFS(t, defaultCluster(), Options{})
	ctx := context.Background()

	assert.Equal(t, StatFs{Files: 3, NameLen: NameMax}, fs.StatFs(ctx))

	_, errno := fs.ReadDir(ctx, defaultNS, 0)
	require.Zero(t, errno)
	assert.Equal(t, uint64(4), fs.StatFs(ctx).Files)
}

func TestRefuse(t *testing.T) {
	rec := &fakeRecorder{}
	fs := newTestFS(t, defaultCluster(), Options{Recorder: rec})

	assert.Equal(t, syscall.ENOTSUP, fs.Refuse(context.Background(), "rename", defaultNS))
	assert.Equal(t, []observation{{operation: OpMutation, status: "enotsup"}}, rec.observations())
}

func TestOperationsAreRecorded(t *testing.T) {
	rec := &fakeRecorder{}
	fs := newTestFS(t, defaultCluster(), Options{Recorder: rec})
	ctx := context.Background()

	_, _ = fs.Lookup(ctx, resource.RootInode, "default")
	_, _ = fs.Lookup(ctx, resource.RootInode, "missing")
	_, _ = fs.GetAttr(ctx, 42)
	_, _ = fs.Read(ctx, defaultNS, 0, 1)

	assert.Equal(t, []observation{
		{operation: OpLookup, status: "ok"},
		{operation: OpLookup, status: "enoent"},
		{operation: OpGetAttr, status: "enoent"},
		{operation: OpRead, status: "eisdir"},
	}, rec.observations())
}

func TestConcurrentReadDirFetchesOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := defaultCluster()
	f.gate = make(chan struct{})
	fs := newTestFS(t, f, Options{})

	var wg sync.WaitGroup
	results := make([][]DirEntry, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entries, errno := fs.ReadDir(context.Background(), defaultNS, 0)
			assert.Zero(t, errno)
			results[i] = entries
		}(i)
	}

	// Let both requests reach the store before the fetch completes.
	require.Eventually(t, func() bool { return f.podCalls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	assert.Equal(t, int32(1), f.podCalls.Load())
	assert.Equal(t, results[0], results[1])
	assert.Equal(t, []string{".", "..", "web-1"}, dirNames(results[0]))
}
