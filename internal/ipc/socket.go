package ipc

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/blob79/ringneck/internal/frame"
)

// Listen binds the supervisor's unix socket at path, removing a stale
// socket file left behind by a prior crashed process first.
func Listen(path string) (*net.UnixListener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}
	_ = os.Remove(path)
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, fmt.Errorf("resolve socket addr: %w", err)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("listen unix %s: %w", path, err)
	}
	return ln, nil
}

// Dial connects to an already-running supervisor. A connection-refused or
// no-such-file error is returned as is when no supervisor is listening;
// the client only calls Dial after its autostart probe has succeeded.
func Dial(path string) (*net.UnixConn, error) {
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, fmt.Errorf("resolve socket addr: %w", err)
	}
	conn, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// PumpKeepAlive writes a KEEP_ALIVE frame to w every interval until ctx is
// done or a write fails. A write failure is reported on errc exactly once
// so the caller can treat it as peer-death; when ctx ends first, it
// returns without reporting anything.
func PumpKeepAlive(ctx context.Context, w frameWriter, interval time.Duration, errc chan<- error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := frame.WriteKeepAlive(w); err != nil {
				select {
				case errc <- err:
				default:
				}
				return
			}
		}
	}
}
