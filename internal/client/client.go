package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/blob79/ringneck/internal/frame"
	"github.com/blob79/ringneck/internal/ipc"
	"github.com/blob79/ringneck/internal/ringconfig"
)

// Run drives one full client-side session: autostart, connect, send the
// invocation, pump stdin out and response frames in, and return the exit
// status the supervisor reported.
func Run(sockPath, supervisorPath string, cfg ringconfig.Config, argv []string) int {
	parsed, err := Parse(argv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ringneck:", err)
		return 1
	}
	if len(parsed.Argv) == 0 && !IsMeta(parsed.Flags) {
		fmt.Fprintln(os.Stderr, "ringneck: no command given")
		return 1
	}

	if err := EnsureSupervisor(sockPath, supervisorPath, cfg); err != nil {
		fmt.Fprintln(os.Stderr, "ringneck:", err)
		return 1
	}

	conn, err := ipc.Dial(sockPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ringneck: connect to supervisor:", err)
		return 1
	}
	defer conn.Close()

	inv := ipc.Invocation{Argv: parsed.Argv, Flags: parsed.Flags}
	if err := ipc.WriteInvocation(conn, inv); err != nil {
		fmt.Fprintln(os.Stderr, "ringneck: send invocation:", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		// A signal means this client is going away; closing the connection
		// lets the supervisor's keep-alive pump notice the dead peer and
		// cancel the child rather than leaving it running unattended.
		conn.Close()
	}()

	go forwardStdin(conn)

	// With SIGPIPE ignored, a write to a closed stdout returns EPIPE instead
	// of the Go runtime killing the process, so drainResponses can keep
	// draining frames after the downstream reader goes away.
	signal.Ignore(syscall.SIGPIPE)

	mode := ipc.ModeFromFlags(parsed.Flags)
	status, err := drainResponses(conn, mode)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ringneck:", err)
		return 1
	}
	return status
}

// forwardStdin streams local stdin to the supervisor as STDIN frames until
// EOF, then half-closes the connection so the supervisor can tell this
// client's input genuinely ran out rather than the client having died.
// An interactive terminal is treated as already exhausted: blocking on
// live keystrokes the user never intended to send would just hang the
// session.
func forwardStdin(conn io.Closer) {
	type writeCloser interface {
		io.Writer
		CloseWrite() error
	}
	wc, ok := conn.(writeCloser)
	if !ok {
		return
	}
	defer wc.CloseWrite()

	if term.IsTerminal(int(os.Stdin.Fd())) {
		return
	}

	buf := make([]byte, 32*1024)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			payload := make([]byte, n)
			copy(payload, buf[:n])
			if werr := frame.WriteFrame(wc, frame.KindStdin, payload); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// drainResponses reads response frames until EXIT, writing STDOUT/STDERR
// (and, if narrowed in, mirrored STDIN) payloads to the local terminal.
// A broken local stdout (e.g. `ringneck cat big.log | head -1`) stops
// local writes but keeps draining frames so the run still commits.
func drainResponses(conn io.Reader, mode ipc.OutputMode) (int, error) {
	dec := frame.NewDecoder(conn)
	stdoutBroken := false
	for {
		f, err := dec.Next()
		if err != nil {
			if err == io.EOF {
				return 1, fmt.Errorf("supervisor closed the session before EXIT")
			}
			return 1, err
		}
		switch f.Kind {
		case frame.KindStdout, frame.KindStdin:
			if !mode.Allows(f.Kind) || stdoutBroken {
				continue
			}
			if _, werr := os.Stdout.Write(f.Payload); werr != nil {
				stdoutBroken = true
			}
		case frame.KindStderr:
			if mode.Allows(f.Kind) {
				os.Stderr.Write(f.Payload)
			}
		case frame.KindExit:
			return int(f.Payload[0]), nil
		}
	}
}
