package dlcore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Fs is the filesystem dlcore writes through. Production code uses
// afero.NewOsFs(); it can be replaced by another afero.Fs such as
// afero.NewMemMapFs(). The package's tests do not replace it.
var Fs afero.Fs = afero.NewOsFs()

// ResolveDestination returns a collision-free absolute path for filename
// under dir, appending " (2)", " (3)", ... suffixes until one is free.
// It never returns a path that afero.Exists reports as present.
func ResolveDestination(dir, filename string) (string, error) {
	filename = SanitizeFilename(filename)
	candidate := filepath.Join(dir, filename)
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)

	for n := 2; ; n++ {
		exists, err := afero.Exists(Fs, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
	}
}

// EnsureWritableDir validates that dir exists, is a directory, and is
// writable.
func EnsureWritableDir(dir string) error {
	info, err := Fs.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrDirectoryNotFound, dir)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotADirectory, dir)
	}
	probe := filepath.Join(dir, ".dlman-write-probe")
	f, err := Fs.Create(probe)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrDirectoryNotWritable, dir)
	}
	f.Close()
	Fs.Remove(probe)
	return nil
}

// PartSuffix is appended to the destination path while a download is in
// progress; FinalizeFile renames it away atomically on completion.
const PartSuffix = ".part"

// CreateSparse creates path (with PartSuffix appended) and, when size is
// known, preallocates it so positional writes never need to grow the file
// under concurrent segment writers.
func CreateSparse(path string, size Size) (afero.File, error) {
	f, err := Fs.Create(path + PartSuffix)
	if err != nil {
		return nil, Classify(KindIoError, err)
	}
	if size.Known && size.Bytes > 0 {
		if err := preallocate(f, size.Bytes); err != nil {
			f.Close()
			return nil, Classify(KindIoError, err)
		}
	}
	return f, nil
}

// OpenExisting reopens a .part file for a resumed download.
func OpenExisting(path string) (afero.File, error) {
	f, err := Fs.OpenFile(path+PartSuffix, os.O_RDWR, 0o644)
	if err != nil {
		return nil, Classify(KindIoError, err)
	}
	return f, nil
}

// FinalizeFile fsyncs f, closes it, and atomically renames the .part file
// to its final name, falling back to copy+delete for cross-device moves.
func FinalizeFile(f afero.File, path string) error {
	if err := f.Sync(); err != nil {
		return Classify(KindIoError, err)
	}
	if err := f.Close(); err != nil {
		return Classify(KindIoError, err)
	}
	if err := Fs.Rename(path+PartSuffix, path); err != nil {
		if moveErr := moveFile(path+PartSuffix, path); moveErr != nil {
			return Classify(KindIoError, moveErr)
		}
	}
	return nil
}

// moveFile falls back to copy+delete when Rename fails across devices.
func moveFile(src, dst string) error {
	srcFile, err := Fs.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer srcFile.Close()

	dstFile, err := Fs.OpenFile(dst, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	copyOK := false
	defer func() {
		dstFile.Close()
		if !copyOK {
			Fs.Remove(dst)
		}
	}()

	buf := make([]byte, DefaultChunkSize)
	if _, err := io.CopyBuffer(dstFile, srcFile, buf); err != nil {
		return fmt.Errorf("copy content: %w", err)
	}
	if err := dstFile.Sync(); err != nil {
		return fmt.Errorf("sync destination: %w", err)
	}
	copyOK = true
	srcFile.Close()
	return Fs.Remove(src)
}
