// Package resource defines what a kubefs filesystem entry represents and how
// its inode number is derived.
//
// A Resource is either cluster-scoped (a bare name, such as a namespace) or
// namespace-scoped (a name plus its owning namespace, such as a pod). The two
// variants form a closed sum type: Scope is a sealed interface implemented
// only by ClusterScope and NamespaceScope, and every consumer matches on it
// with a type switch.
//
// # Inode derivation
//
// Inode computes a BLAKE3 keyed hash over a length-prefixed encoding of the
// resource's kind and scope and keeps the first 64 bits. The key is a fixed
// constant, so the mapping is a pure function of the identity fields: the same
// resource yields the same inode across lookups, directory listings and the
// whole life of the process.
//
// Uniqueness is probabilistic, not guaranteed. For n distinct resources the
// chance of any collision is roughly n²/2⁶⁵; for 100,000 objects that is
// about 3·10⁻¹⁰. Values that land on a reserved inode (0, the root, or the
// FUSE "unknown" marker) are re-hashed with a counter until they do not.
package resource
