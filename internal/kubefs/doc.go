// Package kubefs serves the tree of cluster resources over FUSE.
//
// FS holds the request semantics: every operation is a translation from
// tree.Store results to an attribute record, a listing, a payload or an
// errno. The go-fuse binding in rawfs.go is a thin inode-level shim over FS,
// and Mount wires it to a kernel mount point.
//
// The filesystem is read-only. Every mutating entry point replies ENOTSUP;
// the only other error numbers emitted are ENOENT and EISDIR.
package kubefs
