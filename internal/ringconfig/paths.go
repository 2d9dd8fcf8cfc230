package ringconfig

import (
	"fmt"
	"os"
	"path/filepath"
)

// CacheDir returns the directory ringneck's supervisor uses for committed
// runs, the history log, its log file, ringneck.yaml, and the unix socket
// when XDG_RUNTIME_DIR is unset: XDG_CACHE_HOME (or ~/.cache as a
// fallback) joined with "ringneck".
func CacheDir() (string, error) {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "ringneck"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".cache", "ringneck"), nil
}

// SocketPath returns the well-known path of the supervisor's unix socket.
// It prefers XDG_RUNTIME_DIR (ephemeral, per-login, usually tmpfs) so a
// stale socket never survives a reboot; it falls back to a directory under
// the cache dir when no runtime dir is set.
func SocketPath() (string, error) {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "ringneck.sock"), nil
	}
	dir, err := CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "ringneck.sock"), nil
}

// EnsureCacheDir creates the cache directory (and the runs/ subdirectory)
// if it does not already exist.
func EnsureCacheDir(dir string) error {
	if err := os.MkdirAll(filepath.Join(dir, "runs"), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	return nil
}
