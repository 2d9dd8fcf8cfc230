// Package supervisor implements the long-lived daemon side of a ringneck
// session: it accepts client connections on the IPC socket, memoizes
// command executions by content-addressed key, and replays committed runs
// byte-for-byte.
package supervisor

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/blob79/ringneck/internal/cachestore"
	"github.com/blob79/ringneck/internal/ringconfig"
)

// Supervisor owns the cache store and the execution-dedup group shared by
// every session.
type Supervisor struct {
	store *cachestore.Store
	cfg   ringconfig.Config
	ln    *net.UnixListener

	sf singleflight.Group

	shutdownOnce sync.Once
	shutdownc    chan struct{}
}

// New builds a Supervisor bound to an already-open store and listener.
func New(store *cachestore.Store, cfg ringconfig.Config, ln *net.UnixListener) *Supervisor {
	return &Supervisor{
		store:     store,
		cfg:       cfg,
		ln:        ln,
		shutdownc: make(chan struct{}),
	}
}

// Run accepts sessions until ctx is cancelled or a client sends --shutdown.
// Each session runs in its own goroutine; Run itself never blocks on a
// session's completion.
func (s *Supervisor) Run(ctx context.Context) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	acceptErr := make(chan error, 1)
	go func() {
		for {
			conn, err := s.ln.AcceptUnix()
			if err != nil {
				acceptErr <- err
				return
			}
			go s.handleSession(sessionCtx, conn)
		}
	}()

	select {
	case <-ctx.Done():
		s.ln.Close()
		return nil
	case <-s.shutdownc:
		s.ln.Close()
		return nil
	case err := <-acceptErr:
		select {
		case <-ctx.Done():
			return nil
		case <-s.shutdownc:
			return nil
		default:
			return fmt.Errorf("accept: %w", err)
		}
	}
}

// requestShutdown is called by a session handling --shutdown. Idempotent:
// a second caller is a no-op.
func (s *Supervisor) requestShutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdownc) })
}

// keepAliveInterval and killGrace are exposed as methods so session.go
// doesn't need to reach into cfg directly in more than one place.
func (s *Supervisor) keepAliveInterval() time.Duration { return s.cfg.KeepAlive() }
func (s *Supervisor) killGrace() time.Duration         { return s.cfg.KillGraceDuration() }
