package resource

import (
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"
)

// Reserved inode numbers. Inode never returns any of them.
const (
	// InvalidInode is never a valid FUSE node id.
	InvalidInode uint64 = 0
	// RootInode is the mount's root directory.
	RootInode uint64 = 1
	// UnknownInode is the FUSE_UNKNOWN_INO marker used in directory
	// listings.
	UnknownInode uint64 = 0xffffffffffffffff
)

// Scope tags in the hashed encoding.
const (
	tagCluster   byte = 'c'
	tagNamespace byte = 'n'
)

// inodeDomainKey is the fixed BLAKE3 key for inode derivation. Changing it
// renumbers every inode.
var inodeDomainKey = [32]byte{
	'k', 'u', 'b', 'e', 'f', 's', '.', 'r', 'e', 's', 'o', 'u', 'r', 'c', 'e', '.',
	'i', 'n', 'o', 'd', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// IsReserved reports whether ino is one of the reserved inode numbers.
func IsReserved(ino uint64) bool {
	return ino == InvalidInode || ino == RootInode || ino == UnknownInode
}

// Inode returns the stable inode number of r. It depends only on r's kind and
// scope, never on EntryType or process state.
func Inode(r Resource) uint64 {
	encoded := encodeIdentity(r)
	for attempt := byte(0); ; attempt++ {
		ino := keyedHash64(encoded, attempt)
		if !IsReserved(ino) {
			return ino
		}
	}
}

// Inode is shorthand for Inode(r).
func (r Resource) Inode() uint64 {
	return Inode(r)
}

// encodeIdentity produces an unambiguous byte encoding of the identity
// fields. Every variable-length field is length prefixed so that
// ("ab", "c") and ("a", "bc") never encode the same.
func encodeIdentity(r Resource) []byte {
	buf := make([]byte, 0, 64)
	buf = appendField(buf, string(r.Kind))
	switch s := r.Scope.(type) {
	case ClusterScope:
		buf = append(buf, tagCluster)
		buf = appendField(buf, s.Name)
	case NamespaceScope:
		buf = append(buf, tagNamespace)
		buf = appendField(buf, s.Namespace)
		buf = appendField(buf, s.Name)
	default:
		panic(fmt.Sprintf("resource: unhandled scope %T", s))
	}
	return buf
}

func appendField(buf []byte, field string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(field)))
	return append(buf, field...)
}

func keyedHash64(data []byte, attempt byte) uint64 {
	// NewKeyed only fails for keys that are not 32 bytes long.
	hasher, err := blake3.NewKeyed(inodeDomainKey[:])
	if err != nil {
		panic("resource: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = hasher.Write(data)
	if attempt > 0 {
		_, _ = hasher.Write([]byte{attempt})
	}
	var sum [32]byte
	copy(sum[:], hasher.Sum(nil))
	return binary.LittleEndian.Uint64(sum[:8])
}
