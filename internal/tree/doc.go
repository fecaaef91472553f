// Package tree owns the mapping from inode numbers to cluster resources.
//
// A Store starts with the root directory (inode 1) and, after Initialize,
// one directory per namespace. A namespace's pods are fetched the first time
// its children are needed and then kept for the life of the process; there is
// no invalidation, background refresh or expiry. A failed fetch leaves the
// namespace unpopulated so that a later request can try again.
//
// All methods are safe for concurrent use. Fetches run outside the store's
// lock, and concurrent requests for the same unpopulated namespace share a
// single fetch whose result becomes visible all at once.
package tree
