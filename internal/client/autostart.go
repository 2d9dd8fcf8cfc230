package client

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/blob79/ringneck/internal/ringconfig"
)

const probeTimeout = 100 * time.Millisecond

// EnsureSupervisor connects to sockPath to check whether a supervisor is
// already listening; if not, it launches supervisorPath detached from this
// process's controlling terminal and waits, with bounded exponential
// backoff, until the socket becomes dialable or cfg's autostart timeout
// expires.
func EnsureSupervisor(sockPath, supervisorPath string, cfg ringconfig.Config) error {
	if probe(sockPath) {
		return nil
	}
	if err := spawnDetached(supervisorPath); err != nil {
		return fmt.Errorf("start supervisor: %w", err)
	}
	return waitForSupervisor(sockPath, cfg.AutostartWait())
}

func probe(sockPath string) bool {
	conn, err := net.DialTimeout("unix", sockPath, probeTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// waitForSupervisor polls for the socket becoming dialable. A fsnotify
// watch on the socket's parent directory lets it react the instant the
// supervisor creates the file instead of only on the next poll tick;
// fsnotify failing to initialize (e.g. inotify watch limits) just falls
// back to polling alone, since the bounded backoff loop never depends on
// the notification firing.
func waitForSupervisor(sockPath string, maxWait time.Duration) error {
	deadline := time.Now().Add(maxWait)
	notify := make(chan struct{}, 1)

	if w, err := fsnotify.NewWatcher(); err == nil {
		defer w.Close()
		if err := w.Add(filepath.Dir(sockPath)); err == nil {
			go func() {
				for {
					select {
					case ev, ok := <-w.Events:
						if !ok {
							return
						}
						if ev.Name == sockPath && ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
							select {
							case notify <- struct{}{}:
							default:
							}
						}
					case _, ok := <-w.Errors:
						if !ok {
							return
						}
					}
				}
			}()
		}
	}

	backoff := 10 * time.Millisecond
	const maxBackoff = 200 * time.Millisecond
	for {
		if probe(sockPath) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("supervisor did not become ready within %s", maxWait)
		}
		select {
		case <-notify:
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// spawnDetached launches the supervisor binary as a new session leader so
// it survives this client process exiting, with its standard streams
// disconnected from the invoking terminal.
func spawnDetached(supervisorPath string) error {
	cmd := exec.Command(supervisorPath)

	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	cmd.Stdin = devnull
	cmd.Stdout = devnull
	cmd.Stderr = devnull
	detach(cmd)

	return cmd.Start()
}

// LocateSupervisor resolves the supervisor binary path: a sibling of this
// client binary named ringneckd, falling back to PATH lookup.
func LocateSupervisor() (string, error) {
	self, err := os.Executable()
	if err == nil {
		sibling := filepath.Join(filepath.Dir(self), "ringneckd")
		if _, statErr := os.Stat(sibling); statErr == nil {
			return sibling, nil
		}
	}
	return exec.LookPath("ringneckd")
}
