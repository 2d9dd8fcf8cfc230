package supervisor

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/blob79/ringneck/internal/cachestore"
	"github.com/blob79/ringneck/internal/executor"
	"github.com/blob79/ringneck/internal/frame"
	"github.com/blob79/ringneck/internal/ipc"
	"github.com/blob79/ringneck/internal/ringlog"
	"github.com/blob79/ringneck/internal/shellinit"
)

// handleSession services exactly one client connection end to end. It
// always owns the connection's lifetime: callers never touch conn again.
func (s *Supervisor) handleSession(ctx context.Context, conn *net.UnixConn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			ringlog.Error("session panicked", "panic", r)
		}
	}()

	dec := frame.NewDecoder(conn)
	inv, err := ipc.ReadInvocation(dec)
	if err != nil {
		ringlog.Warn("read invocation failed", "err", err)
		return
	}

	switch {
	case inv.Flags.Shutdown:
		s.handleShutdownRequest(conn)
	case inv.Flags.Init:
		s.handleInitRequest(conn)
	case inv.Flags.History:
		s.handleHistoryRequest(conn)
	case inv.Flags.Forget:
		s.handleForgetRequest(conn)
	case inv.Flags.Key != "":
		s.handleKeyRequest(conn, inv)
	default:
		s.handleExecuteRequest(ctx, conn, dec, inv)
	}
}

func (s *Supervisor) handleShutdownRequest(conn *net.UnixConn) {
	frame.WriteExit(conn, 0)
	s.requestShutdown()
}

func (s *Supervisor) handleInitRequest(conn *net.UnixConn) {
	frame.WriteFrame(conn, frame.KindStdout, []byte(shellinit.Snippet()))
	frame.WriteExit(conn, 0)
}

func (s *Supervisor) handleHistoryRequest(conn *net.UnixConn) {
	entries, err := s.store.ListHistory()
	if err != nil {
		ringlog.Error("list history failed", "err", err)
		frame.WriteFrame(conn, frame.KindStderr, []byte("error reading history\n"))
		frame.WriteExit(conn, 1)
		return
	}
	for _, e := range entries {
		line := fmt.Sprintf("%s\t%s\t%s (%s)\n",
			e.Key.Hex(), joinArgv(e.CommandLine), e.CreatedAt.Format(time.RFC3339), humanize.Time(e.CreatedAt))
		frame.WriteFrame(conn, frame.KindStdout, []byte(line))
	}
	frame.WriteExit(conn, 0)
}

func (s *Supervisor) handleForgetRequest(conn *net.UnixConn) {
	if err := s.store.Forget(); err != nil {
		ringlog.Error("forget failed", "err", err)
		frame.WriteFrame(conn, frame.KindStderr, []byte("error clearing cache\n"))
		frame.WriteExit(conn, 1)
		return
	}
	frame.WriteExit(conn, 0)
}

func (s *Supervisor) handleKeyRequest(conn *net.UnixConn, inv ipc.Invocation) {
	key, ok := cachestore.ParseKey(inv.Flags.Key)
	if !ok {
		frame.WriteFrame(conn, frame.KindStderr, []byte("Invalid key\n"))
		frame.WriteExit(conn, 1)
		return
	}
	run, ok, err := s.store.Get(key)
	if err != nil {
		ringlog.Error("lookup by key failed", "key", key.Hex(), "err", err)
		frame.WriteFrame(conn, frame.KindStderr, []byte("Invalid key\n"))
		frame.WriteExit(conn, 1)
		return
	}
	if !ok {
		frame.WriteFrame(conn, frame.KindStderr, []byte("Invalid key\n"))
		frame.WriteExit(conn, 1)
		return
	}
	replay(conn, run, ipc.ModeFromFlags(inv.Flags))
}

// handleExecuteRequest is the core memoizing path: replay a cached run, or
// dedupe concurrent identical invocations via singleflight and capture a
// fresh one.
func (s *Supervisor) handleExecuteRequest(ctx context.Context, conn *net.UnixConn, dec *frame.Decoder, inv ipc.Invocation) {
	mode := ipc.ModeFromFlags(inv.Flags)
	key := cachestore.DeriveKey(inv.Argv)
	ringlog.Debug("invocation key", "key", key.Hex(), "argv", inv.Argv)

	if !inv.Flags.Force {
		if run, ok, err := s.store.Get(key); err != nil {
			ringlog.Error("cache lookup failed", "key", key.Hex(), "err", err)
		} else if ok {
			replay(conn, run, mode)
			return
		}
	}

	// --force must execute unconditionally, so it never shares a
	// singleflight group with anything else: suffix its key uniquely.
	sfKey := key.Hex()
	if inv.Flags.Force {
		sfKey = sfKey + "/" + uuid.NewString()
	}

	executed := false
	v, err, _ := s.sf.Do(sfKey, func() (interface{}, error) {
		executed = true
		return s.capture(ctx, conn, dec, key, inv)
	})
	if !executed {
		if err != nil {
			// The leader failed to produce a run (e.g. spawn error); tell
			// this follower the same way, rather than hanging.
			frame.WriteFrame(conn, frame.KindStderr, []byte(err.Error()+"\n"))
			frame.WriteExit(conn, 1)
			return
		}
		replay(conn, v.(*cachestore.Run), mode)
	}
}

// capture runs inv.Argv as a child process, mirroring output live to conn
// per mode and recording the full frame sequence (including stdin, when
// requested) for commit. It is only ever invoked once per key by
// singleflight, on behalf of whichever session happened to arrive first.
func (s *Supervisor) capture(ctx context.Context, conn *net.UnixConn, dec *frame.Decoder, key cachestore.Key, inv ipc.Invocation) (*cachestore.Run, error) {
	mode := ipc.ModeFromFlags(inv.Flags)

	exec, err := executor.Start(inv.Argv, s.killGrace())
	if err != nil {
		frame.WriteFrame(conn, frame.KindStderr, []byte(err.Error()+"\n"))
		frame.WriteExit(conn, 1)
		return nil, err
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var connMu sync.Mutex
	writeConn := func(k frame.Kind, payload []byte) {
		if !mode.Allows(k) {
			return
		}
		connMu.Lock()
		defer connMu.Unlock()
		_ = frame.WriteFrame(conn, k, payload)
	}

	var recMu sync.Mutex
	var recorded []frame.Frame
	record := func(k frame.Kind, payload []byte) {
		recMu.Lock()
		recorded = append(recorded, frame.Frame{Kind: k, Payload: append([]byte(nil), payload...)})
		recMu.Unlock()
	}

	deathc := make(chan error, 1)
	go ipc.PumpKeepAlive(sessionCtx, connWriter{conn: conn, mu: &connMu}, s.keepAliveInterval(), deathc)

	var cancelled bool
	var cancelMu sync.Mutex
	go func() {
		select {
		case <-deathc:
			cancelMu.Lock()
			cancelled = true
			cancelMu.Unlock()
			exec.Cancel()
		case <-sessionCtx.Done():
		}
	}()

	go func() {
		for {
			f, err := dec.Next()
			if err != nil {
				exec.CloseStdin()
				return
			}
			if f.Kind != frame.KindStdin {
				continue
			}
			exec.WriteStdin(f.Payload)
			writeConn(frame.KindStdin, f.Payload)
			if inv.Flags.Stdin {
				record(frame.KindStdin, f.Payload)
			}
		}
	}()

	var exitStatus byte
	for f := range exec.Frames() {
		if f.Kind == frame.KindExit {
			exitStatus = f.Payload[0]
			connMu.Lock()
			_ = frame.WriteFrame(conn, frame.KindExit, f.Payload)
			connMu.Unlock()
			break
		}
		writeConn(f.Kind, f.Payload)
		record(f.Kind, f.Payload)
	}
	cancel()

	cancelMu.Lock()
	wasCancelled := cancelled
	cancelMu.Unlock()
	if wasCancelled {
		return nil, fmt.Errorf("session cancelled: client disconnected")
	}

	recMu.Lock()
	frames := append(recorded, frame.Frame{Kind: frame.KindExit, Payload: []byte{exitStatus}})
	recMu.Unlock()

	if err := s.store.Put(key, frames); err != nil {
		ringlog.Error("commit run failed", "key", key.Hex(), "err", err)
		return &cachestore.Run{Frames: frames}, nil
	}
	if err := s.store.PutHistory(key, inv.Argv, time.Now()); err != nil {
		ringlog.Error("commit history failed", "key", key.Hex(), "err", err)
	}
	return &cachestore.Run{Frames: frames}, nil
}

// replay streams a committed run's frames back to the client, narrowed by
// mode; EXIT always passes through regardless.
func replay(conn *net.UnixConn, run *cachestore.Run, mode ipc.OutputMode) {
	for _, f := range run.Frames {
		if f.Kind == frame.KindExit {
			frame.WriteFrame(conn, f.Kind, f.Payload)
			continue
		}
		if mode.Allows(f.Kind) {
			frame.WriteFrame(conn, f.Kind, f.Payload)
		}
	}
}

func joinArgv(argv []string) string {
	out := ""
	for i, a := range argv {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}

// connWriter adapts a *net.UnixConn plus its external mutex to the
// frameWriter shape ipc.PumpKeepAlive expects, so keepalive writes never
// race with the session's own frame writes.
type connWriter struct {
	conn *net.UnixConn
	mu   *sync.Mutex
}

func (c connWriter) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Write(p)
}
