package tree

import (
	"fmt"
	"os"
	"time"

	"github.com/giantswarm/kubefs/internal/resource"
)

// Permission bits. The filesystem is read-only.
const (
	DirPerm  uint32 = 0o555
	FilePerm uint32 = 0o444
)

// BlockSize is the preferred I/O size reported for every entry.
const BlockSize = 512

// Attributes is the static attribute record of an entry.
type Attributes struct {
	Inode     uint64
	EntryType resource.EntryType
	Perm      uint32
	Nlink     uint32
	Size      uint64
	Uid       uint32
	Gid       uint32
	// Mtime is fixed; cluster objects carry no stable file times here.
	Mtime time.Time
}

// Blocks returns the number of 512-byte blocks needed for Size.
func (a Attributes) Blocks() uint64 {
	return (a.Size + BlockSize - 1) / BlockSize
}

// Content returns the placeholder payload served for a file resource. It is
// a pure function of the resource, so the reported size never changes.
func Content(r resource.Resource) []byte {
	return []byte(fmt.Sprintf("kind: %s\nnamespace: %s\nname: %s\n", r.Kind, r.Namespace(), r.Name()))
}

// owner is the uid/gid every entry is reported as owned by.
var owner = struct{ uid, gid uint32 }{
	uid: uint32(os.Getuid()),
	gid: uint32(os.Getgid()),
}

func rootAttributes() Attributes {
	return Attributes{
		Inode:     resource.RootInode,
		EntryType: resource.Directory,
		Perm:      DirPerm,
		Nlink:     2,
		Uid:       owner.uid,
		Gid:       owner.gid,
		Mtime:     time.Unix(0, 0),
	}
}

func attributesOf(ino uint64, r resource.Resource) Attributes {
	attrs := Attributes{
		Inode:     ino,
		EntryType: r.EntryType,
		Uid:       owner.uid,
		Gid:       owner.gid,
		Mtime:     time.Unix(0, 0),
	}
	switch r.EntryType {
	case resource.Directory:
		attrs.Perm = DirPerm
		attrs.Nlink = 2
	case resource.File:
		attrs.Perm = FilePerm
		attrs.Nlink = 1
		attrs.Size = uint64(len(Content(r)))
	default:
		panic(fmt.Sprintf("tree: unhandled entry type %v", r.EntryType))
	}
	return attrs
}
