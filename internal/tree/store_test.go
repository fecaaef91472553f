package tree

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/giantswarm/kubefs/internal/resource"
)

// fakeFetcher serves a fixed cluster and counts calls.
type fakeFetcher struct {
	namespaces    []string
	pods          map[string][]string
	namespacesErr error
	podsErr       map[string]error

	// gate, when set, blocks ListPods until closed.
	gate chan struct{}
	// started is signalled on every ListPods call when non-nil.
	started chan struct{}

	namespaceCalls atomic.Int32
	podCalls       atomic.Int32
}

func (f *fakeFetcher) ListNamespaces(ctx context.Context) ([]string, error) {
	f.namespaceCalls.Add(1)
	if f.namespacesErr != nil {
		return nil, f.namespacesErr
	}
	return append([]string(nil), f.namespaces...), nil
}

func (f *fakeFetcher) ListPods(ctx context.Context, namespace string) ([]string, error) {
	f.podCalls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if err := f.podsErr[namespace]; err != nil {
		return nil, err
	}
	return append([]string(nil), f.pods[namespace]...), nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCluster() *fakeFetcher {
	return &fakeFetcher{
		namespaces: []string{"kube-system", "default"},
		pods: map[string][]string{
			"default":     {"web-1", "api-0"},
			"kube-system": {"coredns-abc"},
		},
	}
}

func newStore(t *testing.T, f Fetcher, opts ...Option) *Store {
	t.Helper()
	s := New(f, append([]Option{WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, s.Initialize(context.Background()))
	return s
}

func names(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name())
	}
	return out
}

func TestInitializeListsNamespacesSorted(t *testing.T) {
	s := newStore(t, newCluster())

	roots, err := s.ChildrenOf(context.Background(), resource.RootInode)
	require.NoError(t, err)

	want := []Entry{
		{Inode: resource.NewNamespace("default").Inode(), Resource: resource.NewNamespace("default")},
		{Inode: resource.NewNamespace("kube-system").Inode(), Resource: resource.NewNamespace("kube-system")},
	}
	if diff := cmp.Diff(want, roots); diff != "" {
		t.Errorf("root children mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, s.Initialized())
	assert.True(t, s.Populated(resource.RootInode))
}

func TestInitializeFailure(t *testing.T) {
	f := &fakeFetcher{namespacesErr: errors.New("connection refused")}
	s := New(f, WithLogger(quietLogger()))

	err := s.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listing namespaces")
	assert.False(t, s.Initialized())
}

func TestInitializeTwice(t *testing.T) {
	s := newStore(t, newCluster())
	err := s.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestInitializeEmptyCluster(t *testing.T) {
	s := newStore(t, &fakeFetcher{})
	roots, err := s.ChildrenOf(context.Background(), resource.RootInode)
	require.NoError(t, err)
	assert.Empty(t, roots)
}

func TestInitializeDropsDuplicateNames(t *testing.T) {
	s := newStore(t, &fakeFetcher{namespaces: []string{"a", "a", "b"}})
	roots, err := s.ChildrenOf(context.Background(), resource.RootInode)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names(roots))
}

func TestChildrenOfNamespacePopulatesOnce(t *testing.T) {
	f := newCluster()
	s := newStore(t, f)
	ns := resource.NewNamespace("default").Inode()

	assert.False(t, s.Populated(ns))

	first, err := s.ChildrenOf(context.Background(), ns)
	require.NoError(t, err)
	second, err := s.ChildrenOf(context.Background(), ns)
	require.NoError(t, err)

	assert.Equal(t, []string{"api-0", "web-1"}, names(first))
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), f.podCalls.Load())
	assert.True(t, s.Populated(ns))

	for _, e := range first {
		assert.Equal(t, resource.KindPod, e.Resource.Kind)
		assert.Equal(t, "default", e.Resource.Namespace())
		assert.Equal(t, resource.NewPod("default", e.Name()).Inode(), e.Inode)
	}
}

func TestChildrenOfEmptyNamespace(t *testing.T) {
	f := &fakeFetcher{namespaces: []string{"empty"}}
	s := newStore(t, f)
	ns := resource.NewNamespace("empty").Inode()

	children, err := s.ChildrenOf(context.Background(), ns)
	require.NoError(t, err)
	assert.Empty(t, children)
	assert.True(t, s.Populated(ns))

	_, err = s.ChildrenOf(context.Background(), ns)
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.podCalls.Load())
}

func TestChildrenOfLeafIsEmpty(t *testing.T) {
	f := newCluster()
	s := newStore(t, f)
	_, err := s.ChildrenOf(context.Background(), resource.NewNamespace("default").Inode())
	require.NoError(t, err)

	children, err := s.ChildrenOf(context.Background(), resource.NewPod("default", "web-1").Inode())
	require.NoError(t, err)
	assert.Empty(t, children)
	assert.Equal(t, int32(1), f.podCalls.Load())
}

func TestChildrenOfUnknownInode(t *testing.T) {
	s := newStore(t, newCluster())

	_, err := s.ChildrenOf(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)

	// Pods are unknown until their namespace has been listed.
	_, err = s.ChildrenOf(context.Background(), resource.NewPod("default", "web-1").Inode())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPopulationFailureIsNotCached(t *testing.T) {
	f := newCluster()
	f.podsErr = map[string]error{"default": errors.New("503 service unavailable")}
	s := newStore(t, f)
	ns := resource.NewNamespace("default").Inode()

	_, err := s.ChildrenOf(context.Background(), ns)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `populating namespace "default"`)
	assert.False(t, s.Populated(ns))
	assert.Equal(t, Stats{Namespaces: 2}, s.Stats())

	f.podsErr = nil
	children, err := s.ChildrenOf(context.Background(), ns)
	require.NoError(t, err)
	assert.Equal(t, []string{"api-0", "web-1"}, names(children))
	assert.Equal(t, int32(2), f.podCalls.Load())
}

func TestConcurrentPopulationFetchesOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newCluster()
	f.gate = make(chan struct{})
	f.started = make(chan struct{}, 8)
	var buf bytes.Buffer
	s := newStore(t, f, WithLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))))
	ns := resource.NewNamespace("default").Inode()

	const callers = 8
	var wg sync.WaitGroup
	results := make([][]Entry, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.ChildrenOf(context.Background(), ns)
		}(i)
	}

	// Hold the fetch open until the first caller is inside it.
	<-f.started
	// Nothing is visible while the fetch is in flight.
	assert.False(t, s.Populated(ns))
	close(f.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []string{"api-0", "web-1"}, names(results[i]))
	}
	// Callers that arrived after the commit read the cache; those that
	// overlapped the flight shared it. Either way one fetch happened.
	assert.Equal(t, int32(1), f.podCalls.Load())

	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, "namespace population shared") {
			assert.Contains(t, line, "namespace=default")
		}
	}
}

func TestConcurrentPopulationOfDifferentNamespaces(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newCluster()
	s := newStore(t, f)

	var wg sync.WaitGroup
	for _, name := range []string{"default", "kube-system", "default", "kube-system"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, err := s.ChildrenOf(context.Background(), resource.NewNamespace(name).Inode())
			assert.NoError(t, err)
		}(name)
	}
	wg.Wait()

	assert.Equal(t, Stats{Namespaces: 2, PopulatedNamespaces: 2, Pods: 3}, s.Stats())
	assert.LessOrEqual(t, f.podCalls.Load(), int32(4))
	assert.GreaterOrEqual(t, f.podCalls.Load(), int32(2))
}

func TestLookupChild(t *testing.T) {
	s := newStore(t, newCluster())
	ctx := context.Background()

	ns, found, err := s.LookupChild(ctx, resource.RootInode, "default")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, resource.NewNamespace("default").Inode(), ns.Inode)

	pod, found, err := s.LookupChild(ctx, ns.Inode, "web-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, resource.NewPod("default", "web-1"), pod.Resource)

	_, found, err = s.LookupChild(ctx, ns.Inode, "nope")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = s.LookupChild(ctx, resource.RootInode, "nope")
	require.NoError(t, err)
	assert.False(t, found)

	_, _, err = s.LookupChild(ctx, 42, "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAttributesOf(t *testing.T) {
	s := newStore(t, newCluster())
	ctx := context.Background()

	root, ok := s.AttributesOf(resource.RootInode)
	require.True(t, ok)
	assert.Equal(t, resource.Directory, root.EntryType)
	assert.Equal(t, DirPerm, root.Perm)
	assert.Equal(t, uint32(2), root.Nlink)

	nsIno := resource.NewNamespace("default").Inode()
	ns, ok := s.AttributesOf(nsIno)
	require.True(t, ok)
	assert.Equal(t, nsIno, ns.Inode)
	assert.Equal(t, resource.Directory, ns.EntryType)

	_, err := s.ChildrenOf(ctx, nsIno)
	require.NoError(t, err)

	pod := resource.NewPod("default", "web-1")
	attrs, ok := s.AttributesOf(pod.Inode())
	require.True(t, ok)
	assert.Equal(t, resource.File, attrs.EntryType)
	assert.Equal(t, FilePerm, attrs.Perm)
	assert.Equal(t, uint32(1), attrs.Nlink)
	assert.Equal(t, uint64(len(Content(pod))), attrs.Size)
	assert.Equal(t, uint64(1), attrs.Blocks())

	_, ok = s.AttributesOf(42)
	assert.False(t, ok)
}

func TestParentOf(t *testing.T) {
	s := newStore(t, newCluster())
	nsIno := resource.NewNamespace("default").Inode()
	_, err := s.ChildrenOf(context.Background(), nsIno)
	require.NoError(t, err)

	parent, ok := s.ParentOf(resource.RootInode)
	require.True(t, ok)
	assert.Equal(t, resource.RootInode, parent)

	parent, ok = s.ParentOf(nsIno)
	require.True(t, ok)
	assert.Equal(t, resource.RootInode, parent)

	parent, ok = s.ParentOf(resource.NewPod("default", "web-1").Inode())
	require.True(t, ok)
	assert.Equal(t, nsIno, parent)

	_, ok = s.ParentOf(42)
	assert.False(t, ok)
}

func TestPopulateHook(t *testing.T) {
	var mu sync.Mutex
	calls := map[string]int{}
	s := newStore(t, newCluster(), WithPopulateHook(func(ctx context.Context, namespace string, pods int) {
		mu.Lock()
		defer mu.Unlock()
		calls[namespace] = pods
	}))

	for i := 0; i < 2; i++ {
		_, err := s.ChildrenOf(context.Background(), resource.NewNamespace("default").Inode())
		require.NoError(t, err)
	}
	assert.Equal(t, map[string]int{"default": 2}, calls)
}

func TestRegisterRefusesCollision(t *testing.T) {
	var buf bytes.Buffer
	s := New(&fakeFetcher{}, WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	victim := resource.NewPod("ns", "victim")
	impostor := resource.NewPod("ns", "impostor")

	s.mu.Lock()
	s.resources[victim.Inode()] = victim
	// Force the impostor onto the victim's inode by registering it under a
	// pre-seeded entry with a different identity.
	s.resources[impostor.Inode()] = victim
	kept := s.registerLocked([]resource.Resource{impostor})
	s.mu.Unlock()

	assert.Empty(t, kept)
	got, ok := s.Resource(impostor.Inode())
	require.True(t, ok)
	assert.Equal(t, victim, got)

	out := buf.String()
	assert.Contains(t, out, "inode collision, entry hidden")
	assert.Contains(t, out, "inode="+strconv.FormatUint(impostor.Inode(), 10))
	assert.Contains(t, out, "resource_kind=pod")
	assert.Contains(t, out, "resource_name=impostor")
}

func TestPopulationLogAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := New(newCluster(), WithLogger(logger))
	require.NoError(t, s.Initialize(context.Background()))

	_, err := s.ChildrenOf(context.Background(), resource.NewNamespace("default").Inode())
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `msg="tree initialized" resource_kind=namespace count=2`)
	assert.Contains(t, out, `msg="namespace populated" namespace=default resource_kind=pod count=2`)
}

func TestContentIsDeterministic(t *testing.T) {
	pod := resource.NewPod("default", "web-1")
	assert.Equal(t, "kind: pod\nnamespace: default\nname: web-1\n", string(Content(pod)))
	assert.Equal(t, Content(pod), Content(resource.NewPod("default", "web-1")))
}
