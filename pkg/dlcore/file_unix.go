//go:build !windows

package dlcore

import (
	"syscall"

	"github.com/spf13/afero"
)

// preallocate reserves size bytes on disk using fallocate where the
// underlying file exposes an *os.File (afero.OsFs always does); other Fs
// implementations (MemMapFs in tests) fall back to Truncate, which is
// sufficient to make the file sparse-but-sized without a real syscall.
func preallocate(f afero.File, size int64) error {
	type fder interface{ Fd() uintptr }
	if fd, ok := f.(fder); ok {
		if err := syscall.Fallocate(int(fd.Fd()), 0, 0, size); err == nil {
			return nil
		}
		// Fallocate unsupported on this filesystem (e.g. tmpfs, some
		// network mounts): fall through to Truncate.
	}
	return f.Truncate(size)
}
