//go:build windows

package dlcore

import "github.com/spf13/afero"

// preallocate on Windows just truncates to the target size; NTFS does not
// expose a portable fallocate-equivalent through the standard library.
func preallocate(f afero.File, size int64) error {
	return f.Truncate(size)
}
