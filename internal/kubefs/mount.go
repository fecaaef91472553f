package kubefs

import (
	"errors"
	"fmt"
	"os"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/giantswarm/kubefs/internal/logging"
)

// FsName is the filesystem name shown in the mount table.
const FsName = "kubefs"

// MountOptions configures the kernel mount.
type MountOptions struct {
	// Mountpoint is the directory the filesystem is mounted on. It is
	// created if it does not exist.
	Mountpoint string

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// AutoUnmount asks fusermount to unmount when the process exits.
	AutoUnmount bool

	// Debug logs every FUSE request and reply from go-fuse.
	Debug bool
}

// fuseOptions returns the go-fuse options for opts. The mount is always
// read-only.
func (o MountOptions) fuseOptions(maxRead int) *fuse.MountOptions {
	options := []string{"ro"}
	if o.AutoUnmount {
		options = append(options, "auto_unmount")
	}
	return &fuse.MountOptions{
		FsName:     FsName,
		Name:       FsName,
		Options:    options,
		AllowOther: o.AllowOther,
		Debug:      o.Debug,
		// go-fuse sizes its request buffers from MaxWrite.
		MaxWrite: maxRead,
	}
}

// Mount mounts fs and starts serving it. The caller must call Unmount on the
// returned server when done, and may Wait on it to block until the kernel
// unmounts.
func Mount(fs *FS, opts MountOptions) (*fuse.Server, error) {
	if fs == nil {
		return nil, errors.New("filesystem is required")
	}
	if opts.Mountpoint == "" {
		return nil, errors.New("mountpoint is required")
	}
	if err := os.MkdirAll(opts.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", opts.Mountpoint, err)
	}

	server, err := fuse.NewServer(newRawFS(fs), opts.Mountpoint, opts.fuseOptions(fs.opts.MaxReadSize))
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", opts.Mountpoint, err)
	}

	go server.Serve()
	if err := server.WaitMount(); err != nil {
		_ = server.Unmount()
		return nil, fmt.Errorf("waiting for mount at %s: %w", opts.Mountpoint, err)
	}

	fs.opts.Logger.Info("filesystem mounted",
		logging.Mountpoint(opts.Mountpoint),
		"read_only", true,
		"auto_unmount", opts.AutoUnmount)
	return server, nil
}
