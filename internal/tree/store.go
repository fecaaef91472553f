package tree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/giantswarm/kubefs/internal/logging"
	"github.com/giantswarm/kubefs/internal/resource"
)

var (
	// ErrNotFound is returned for inodes the store does not know.
	ErrNotFound = errors.New("inode not found")

	// ErrAlreadyInitialized is returned by a second call to Initialize.
	ErrAlreadyInitialized = errors.New("tree already initialized")
)

// Fetcher is the remote listing the store populates itself from.
// k8s.Fetcher satisfies it.
type Fetcher interface {
	ListNamespaces(ctx context.Context) ([]string, error)
	ListPods(ctx context.Context, namespace string) ([]string, error)
}

// Entry pairs a resource with its inode.
type Entry struct {
	Inode    uint64
	Resource resource.Resource
}

// Name returns the entry's path segment.
func (e Entry) Name() string {
	return e.Resource.Name()
}

// Stats summarizes the store's contents.
type Stats struct {
	Namespaces          int
	PopulatedNamespaces int
	Pods                int
}

// Store is the inode tree. The zero value is not usable; use New.
type Store struct {
	fetcher Fetcher
	logger  *slog.Logger

	onPopulate func(ctx context.Context, namespace string, pods int)

	mu          sync.RWMutex
	initialized bool
	resources   map[uint64]resource.Resource
	// roots holds the namespace inodes in name order.
	roots []uint64
	// children holds the child inodes of every populated directory, in
	// name order. A directory absent from the map is unpopulated.
	children map[uint64][]uint64

	flights singleflight.Group
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithPopulateHook registers fn to be called after each successful namespace
// population.
func WithPopulateHook(fn func(ctx context.Context, namespace string, pods int)) Option {
	return func(s *Store) {
		s.onPopulate = fn
	}
}

// New returns an empty store backed by fetcher. Call Initialize before
// serving requests.
func New(fetcher Fetcher, opts ...Option) *Store {
	s := &Store{
		fetcher:   fetcher,
		logger:    slog.Default(),
		resources: make(map[uint64]resource.Resource),
		children:  make(map[uint64][]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize lists all namespaces and registers them under the root. An
// error here means there is no filesystem to serve.
func (s *Store) Initialize(ctx context.Context) error {
	names, err := s.fetcher.ListNamespaces(ctx)
	if err != nil {
		return fmt.Errorf("listing namespaces: %w", err)
	}

	resources := make([]resource.Resource, 0, len(names))
	for _, name := range names {
		resources = append(resources, resource.NewNamespace(name))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return ErrAlreadyInitialized
	}
	s.roots = s.registerLocked(resources)
	s.initialized = true

	s.logger.Info("tree initialized",
		logging.ResourceKind(string(resource.KindNamespace)),
		slog.Int("count", len(s.roots)))
	return nil
}

// ChildrenOf returns the children of ino in name order. The root yields the
// namespaces; a namespace yields its pods, fetching them on first use; leaves
// yield nothing. Unknown inodes return ErrNotFound.
func (s *Store) ChildrenOf(ctx context.Context, ino uint64) ([]Entry, error) {
	s.mu.RLock()
	if ino == resource.RootInode {
		entries := s.entriesLocked(s.roots)
		s.mu.RUnlock()
		return entries, nil
	}
	r, ok := s.resources[ino]
	if !ok {
		s.mu.RUnlock()
		return nil, fmt.Errorf("inode %d: %w", ino, ErrNotFound)
	}
	if kids, populated := s.children[ino]; populated {
		entries := s.entriesLocked(kids)
		s.mu.RUnlock()
		return entries, nil
	}
	s.mu.RUnlock()

	if r.EntryType != resource.Directory {
		return nil, nil
	}
	switch r.Kind {
	case resource.KindNamespace:
		return s.populateNamespace(ctx, ino, r.Name())
	default:
		// Directories of other kinds have no listing source yet.
		return nil, nil
	}
}

// LookupChild returns the child of parent whose name is name.
func (s *Store) LookupChild(ctx context.Context, parent uint64, name string) (Entry, bool, error) {
	children, err := s.ChildrenOf(ctx, parent)
	if err != nil {
		return Entry{}, false, err
	}
	for _, child := range children {
		if child.Name() == name {
			return child, true, nil
		}
	}
	return Entry{}, false, nil
}

// AttributesOf returns the attribute record of ino.
func (s *Store) AttributesOf(ino uint64) (Attributes, bool) {
	if ino == resource.RootInode {
		return rootAttributes(), true
	}
	s.mu.RLock()
	r, ok := s.resources[ino]
	s.mu.RUnlock()
	if !ok {
		return Attributes{}, false
	}
	return attributesOf(ino, r), true
}

// Resource returns the resource registered under ino. The root is not a
// resource and reports false.
func (s *Store) Resource(ino uint64) (resource.Resource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[ino]
	return r, ok
}

// ParentOf returns the inode of ino's parent directory. The root is its own
// parent.
func (s *Store) ParentOf(ino uint64) (uint64, bool) {
	if ino == resource.RootInode {
		return resource.RootInode, true
	}
	r, ok := s.Resource(ino)
	if !ok {
		return 0, false
	}
	switch scope := r.Scope.(type) {
	case resource.ClusterScope:
		return resource.RootInode, true
	case resource.NamespaceScope:
		return resource.NewNamespace(scope.Namespace).Inode(), true
	default:
		panic(fmt.Sprintf("tree: unhandled scope %T", scope))
	}
}

// Populated reports whether ino's children have been fetched.
func (s *Store) Populated(ino uint64) bool {
	if ino == resource.RootInode {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.initialized
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.children[ino]
	return ok
}

// Initialized reports whether Initialize has succeeded.
func (s *Store) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// Stats returns a snapshot of the store's size.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Stats{
		Namespaces:          len(s.roots),
		PopulatedNamespaces: len(s.children),
	}
	for _, kids := range s.children {
		stats.Pods += len(kids)
	}
	return stats
}

// populateNamespace fetches the pods of namespace once. Concurrent callers
// share the flight; the children become visible in a single locked commit
// before the flight returns, so nobody observes a partial set.
func (s *Store) populateNamespace(ctx context.Context, ino uint64, namespace string) ([]Entry, error) {
	v, err, shared := s.flights.Do(strconv.FormatUint(ino, 10), func() (interface{}, error) {
		s.mu.RLock()
		if kids, populated := s.children[ino]; populated {
			entries := s.entriesLocked(kids)
			s.mu.RUnlock()
			return entries, nil
		}
		s.mu.RUnlock()

		names, err := s.fetcher.ListPods(ctx, namespace)
		if err != nil {
			return nil, fmt.Errorf("populating namespace %q: %w", namespace, err)
		}

		pods := make([]resource.Resource, 0, len(names))
		for _, name := range names {
			pods = append(pods, resource.NewPod(namespace, name))
		}

		s.mu.Lock()
		kids := s.registerLocked(pods)
		s.children[ino] = kids
		entries := s.entriesLocked(kids)
		s.mu.Unlock()

		s.logger.Debug("namespace populated",
			logging.Namespace(namespace),
			logging.ResourceKind(string(resource.KindPod)),
			slog.Int("count", len(kids)))
		if s.onPopulate != nil {
			s.onPopulate(ctx, namespace, len(kids))
		}
		return entries, nil
	})
	if err != nil {
		s.logger.Warn("namespace population failed", logging.Namespace(namespace), logging.SanitizedErr(err))
		return nil, err
	}
	if shared {
		s.logger.Debug("namespace population shared", logging.Namespace(namespace))
	}
	return v.([]Entry), nil
}

// registerLocked indexes resources by inode and returns their inodes sorted
// by name. Duplicates are dropped; a resource whose inode is already taken
// by a different resource is refused rather than merged.
func (s *Store) registerLocked(resources []resource.Resource) []uint64 {
	inodes := make([]uint64, 0, len(resources))
	seen := make(map[uint64]struct{}, len(resources))
	for _, r := range resources {
		ino := r.Inode()
		if _, dup := seen[ino]; dup {
			continue
		}
		if existing, taken := s.resources[ino]; taken && existing != r {
			s.logger.Error("inode collision, entry hidden",
				logging.Inode(ino),
				logging.ResourceKind(string(r.Kind)),
				logging.ResourceName(r.Name()),
				slog.String("existing", existing.String()))
			continue
		}
		s.resources[ino] = r
		seen[ino] = struct{}{}
		inodes = append(inodes, ino)
	}
	sort.Slice(inodes, func(i, j int) bool {
		return s.resources[inodes[i]].Name() < s.resources[inodes[j]].Name()
	})
	return inodes
}

func (s *Store) entriesLocked(inodes []uint64) []Entry {
	entries := make([]Entry, 0, len(inodes))
	for _, ino := range inodes {
		entries = append(entries, Entry{Inode: ino, Resource: s.resources[ino]})
	}
	return entries
}
