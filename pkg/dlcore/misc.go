package dlcore

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// DataDirEnv overrides the data directory.
const DataDirEnv = "DLMAN_DATA_DIR"

// PortEnv overrides the control server port.
const PortEnv = "DLMAN_PORT"

// ResolveDataDir implements the three-tier fallback: explicit env var,
// then os.UserConfigDir()/dlman, then a temp directory, creating whichever
// one is chosen.
func ResolveDataDir() (string, error) {
	if dir := os.Getenv(DataDirEnv); dir != "" {
		return ensureDir(dir)
	}
	if cfg, err := os.UserConfigDir(); err == nil {
		dir, err := ensureDir(filepath.Join(cfg, "dlman"))
		if err == nil {
			return dir, nil
		}
	}
	return ensureDir(filepath.Join(os.TempDir(), "dlman"))
}

func ensureDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("create data dir %s: %w", abs, err)
	}
	return abs, nil
}

// getMinPartSize tiers the floor segment size by total file size so very
// small files never get split into pointlessly tiny segments.
func getMinPartSize(contentLength int64) int64 {
	switch {
	case contentLength <= 0:
		return 512 * KB
	case contentLength < 100*MB:
		return 512 * KB
	case contentLength < 1*GB:
		return 1 * MB
	case contentLength < 10*GB:
		return 2 * MB
	default:
		return 4 * MB
	}
}

var windowsReservedNames = []string{
	"CON", "PRN", "AUX", "NUL",
	"COM1", "COM2", "COM3", "COM4", "COM5", "COM6", "COM7", "COM8", "COM9",
	"LPT1", "LPT2", "LPT3", "LPT4", "LPT5", "LPT6", "LPT7", "LPT8", "LPT9",
}

// SanitizeFilename removes characters invalid on Windows/Unix filesystems,
// URL-decodes the input, strips control characters, and renames Windows
// reserved device names, so a filename derived from a URL path or
// Content-Disposition header is always safe to create cross-platform.
func SanitizeFilename(name string) string {
	if name == "" {
		return "download"
	}
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}

	for _, c := range []string{"<", ">", ":", "\"", "/", "\\", "|", "?", "*"} {
		name = strings.ReplaceAll(name, c, "_")
	}

	var b strings.Builder
	for _, r := range name {
		if r >= 32 {
			b.WriteRune(r)
		}
	}
	name = b.String()

	base, ext := name, ""
	if idx := strings.LastIndex(name, "."); idx > 0 {
		base, ext = name[:idx], name[idx:]
	}
	for _, r := range windowsReservedNames {
		if strings.EqualFold(base, r) {
			base = "_" + base
			break
		}
	}
	name = strings.Trim(base+ext, " .")

	if name == "" {
		name = "download"
	}
	return name
}
