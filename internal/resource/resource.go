package resource

import (
	"fmt"
)

// Kind is the resource category, for example "namespace" or "pod".
type Kind string

const (
	KindNamespace Kind = "namespace"
	KindPod       Kind = "pod"
)

// EntryType says how a resource renders in the filesystem.
type EntryType int

const (
	// Directory resources have children.
	Directory EntryType = iota
	// File resources are leaves.
	File
)

func (t EntryType) String() string {
	switch t {
	case Directory:
		return "directory"
	case File:
		return "file"
	default:
		return fmt.Sprintf("EntryType(%d)", int(t))
	}
}

// Scope identifies a resource within the cluster. It is implemented only by
// ClusterScope and NamespaceScope.
type Scope interface {
	// DisplayName is the single path segment under which the resource
	// appears in its parent directory.
	DisplayName() string

	isScope()
}

// ClusterScope identifies a resource by name alone.
type ClusterScope struct {
	Name string
}

func (s ClusterScope) DisplayName() string { return s.Name }
func (ClusterScope) isScope()              {}

// NamespaceScope identifies a resource by name within an owning namespace.
type NamespaceScope struct {
	Namespace string
	Name      string
}

// DisplayName returns the bare name; the namespace is already the parent
// directory.
func (s NamespaceScope) DisplayName() string { return s.Name }
func (NamespaceScope) isScope()              {}

// Resource is the atomic entity of the tree. It carries no reference to its
// parent; the tree owns the parent to children relation.
type Resource struct {
	Scope     Scope
	Kind      Kind
	EntryType EntryType
}

// NewNamespace returns the directory resource for a namespace.
func NewNamespace(name string) Resource {
	return Resource{
		Scope:     ClusterScope{Name: name},
		Kind:      KindNamespace,
		EntryType: Directory,
	}
}

// NewPod returns the file resource for a pod in namespace.
func NewPod(namespace, name string) Resource {
	return Resource{
		Scope:     NamespaceScope{Namespace: namespace, Name: name},
		Kind:      KindPod,
		EntryType: File,
	}
}

// Name returns the resource's path segment.
func (r Resource) Name() string {
	if r.Scope == nil {
		return ""
	}
	return r.Scope.DisplayName()
}

// Namespace returns the owning namespace, or "" for cluster-scoped resources.
func (r Resource) Namespace() string {
	switch s := r.Scope.(type) {
	case ClusterScope:
		return ""
	case NamespaceScope:
		return s.Namespace
	case nil:
		return ""
	default:
		panic(fmt.Sprintf("resource: unhandled scope %T", s))
	}
}

// IsDir reports whether the resource renders as a directory.
func (r Resource) IsDir() bool {
	return r.EntryType == Directory
}

// String renders the resource as kind/name or kind/namespace/name.
func (r Resource) String() string {
	switch s := r.Scope.(type) {
	case ClusterScope:
		return fmt.Sprintf("%s/%s", r.Kind, s.Name)
	case NamespaceScope:
		return fmt.Sprintf("%s/%s/%s", r.Kind, s.Namespace, s.Name)
	case nil:
		return string(r.Kind)
	default:
		panic(fmt.Sprintf("resource: unhandled scope %T", s))
	}
}
