package supervisor

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/blob79/ringneck/internal/cachestore"
	"github.com/blob79/ringneck/internal/frame"
	"github.com/blob79/ringneck/internal/ipc"
	"github.com/blob79/ringneck/internal/ringconfig"
)

func startTestSupervisor(t *testing.T) (sockPath string, store *cachestore.Store, stop func()) {
	t.Helper()
	dir := t.TempDir()

	st, err := cachestore.Open(dir)
	if err != nil {
		t.Fatalf("cachestore.Open: %v", err)
	}

	sockPath = filepath.Join(dir, "ringneck.sock")
	addr, err := net.ResolveUnixAddr("unix", sockPath)
	if err != nil {
		t.Fatalf("resolve addr: %v", err)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	cfg := ringconfig.Defaults()
	sup := New(st, cfg, ln)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	return sockPath, st, func() {
		cancel()
		<-done
	}
}

func dial(t *testing.T, sockPath string) *net.UnixConn {
	t.Helper()
	addr, err := net.ResolveUnixAddr("unix", sockPath)
	if err != nil {
		t.Fatalf("resolve addr: %v", err)
	}
	conn, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func invoke(t *testing.T, sockPath string, argv []string, flags ipc.Flags) (stdout, stderr []byte, exit byte) {
	t.Helper()
	conn := dial(t, sockPath)
	defer conn.Close()

	inv := ipc.Invocation{Argv: argv, Flags: flags}
	if err := ipc.WriteInvocation(conn, inv); err != nil {
		t.Fatalf("write invocation: %v", err)
	}
	conn.CloseWrite()

	dec := frame.NewDecoder(conn)
	sawExit := false
	for {
		f, err := dec.Next()
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		switch f.Kind {
		case frame.KindStdout:
			stdout = append(stdout, f.Payload...)
		case frame.KindStderr:
			stderr = append(stderr, f.Payload...)
		case frame.KindExit:
			exit = f.Payload[0]
			sawExit = true
		}
		if sawExit {
			break
		}
	}
	return stdout, stderr, exit
}

func TestCaptureThenReplay(t *testing.T) {
	sockPath, st, stop := startTestSupervisor(t)
	defer stop()

	argv := []string{"echo", "hello-ringneck"}
	stdout, _, exit := invoke(t, sockPath, argv, ipc.Flags{})
	if exit != 0 {
		t.Fatalf("first run exit = %d, want 0", exit)
	}
	if string(stdout) != "hello-ringneck\n" {
		t.Fatalf("first run stdout = %q", stdout)
	}

	stdout2, _, exit2 := invoke(t, sockPath, argv, ipc.Flags{})
	if exit2 != 0 || string(stdout2) != string(stdout) {
		t.Fatalf("replay mismatch: stdout=%q exit=%d", stdout2, exit2)
	}

	entries, err := st.ListHistory()
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one history entry after repeat invocation, got %d", len(entries))
	}
}

func TestForceBypassesCache(t *testing.T) {
	sockPath, _, stop := startTestSupervisor(t)
	defer stop()

	argv := []string{"sh", "-c", "echo run"}
	invoke(t, sockPath, argv, ipc.Flags{})
	stdout, _, exit := invoke(t, sockPath, argv, ipc.Flags{Force: true})
	if exit != 0 || string(stdout) != "run\n" {
		t.Fatalf("forced run: stdout=%q exit=%d", stdout, exit)
	}
}

func TestStderrNarrowing(t *testing.T) {
	sockPath, _, stop := startTestSupervisor(t)
	defer stop()

	argv := []string{"sh", "-c", "echo out; echo err 1>&2"}
	stdout, stderr, _ := invoke(t, sockPath, argv, ipc.Flags{Stderr: true})
	if len(stdout) != 0 {
		t.Fatalf("expected no stdout under --stderr narrowing, got %q", stdout)
	}
	if string(stderr) != "err\n" {
		t.Fatalf("stderr = %q, want %q", stderr, "err\n")
	}
}

func TestInvalidKeyReportsError(t *testing.T) {
	sockPath, _, stop := startTestSupervisor(t)
	defer stop()

	_, stderr, exit := invoke(t, sockPath, nil, ipc.Flags{Key: "not-a-real-key"})
	if exit == 0 {
		t.Fatalf("expected non-zero exit for invalid key")
	}
	if string(stderr) != "Invalid key\n" {
		t.Fatalf("stderr = %q, want %q", stderr, "Invalid key\n")
	}
}

func TestForgetClearsHistory(t *testing.T) {
	sockPath, st, stop := startTestSupervisor(t)
	defer stop()

	invoke(t, sockPath, []string{"echo", "keep-me-honest"}, ipc.Flags{})
	_, _, exit := invoke(t, sockPath, nil, ipc.Flags{Forget: true})
	if exit != 0 {
		t.Fatalf("forget exit = %d, want 0", exit)
	}
	entries, err := st.ListHistory()
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty history after forget, got %d entries", len(entries))
	}
}

func TestInitEmitsShellSnippet(t *testing.T) {
	sockPath, _, stop := startTestSupervisor(t)
	defer stop()

	stdout, _, exit := invoke(t, sockPath, nil, ipc.Flags{Init: true})
	if exit != 0 {
		t.Fatalf("init exit = %d, want 0", exit)
	}
	if len(stdout) == 0 {
		t.Fatalf("expected non-empty shell snippet")
	}
}

func TestShutdownStopsAcceptLoop(t *testing.T) {
	sockPath, _, stop := startTestSupervisor(t)
	defer stop()

	_, _, exit := invoke(t, sockPath, nil, ipc.Flags{Shutdown: true})
	if exit != 0 {
		t.Fatalf("shutdown exit = %d, want 0", exit)
	}

	time.Sleep(50 * time.Millisecond)
	conn, err := net.DialTimeout("unix", sockPath, 200*time.Millisecond)
	if err == nil {
		conn.Close()
		t.Fatalf("expected dial to fail after shutdown")
	}
}
