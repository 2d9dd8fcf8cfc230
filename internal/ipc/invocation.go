// Package ipc defines the shared vocabulary of a client/supervisor session:
// the invocation envelope sent as the first frame, and the output-mode
// narrowing rules both sides must agree on when replaying or mirroring a
// run's recorded frames.
package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/blob79/ringneck/internal/frame"
)

// Flags is the parsed flag set a client sends alongside argv. It mirrors
// the dispatch table in the specification's supervisor component.
type Flags struct {
	Force    bool
	Stdout   bool
	Stderr   bool
	Stdin    bool
	History  bool
	Forget   bool
	Key      string
	Shutdown bool
	Init     bool
}

// Invocation is the client's request, sent as the session's first frame
// (tagged frame.KindInvoke) before any STDIN/STDOUT/STDERR traffic.
type Invocation struct {
	Argv  []string `json:"argv"`
	Flags Flags    `json:"flags"`
}

// WriteInvocation sends inv as the session's first frame.
func WriteInvocation(w frameWriter, inv Invocation) error {
	payload, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("marshal invocation: %w", err)
	}
	return frame.WriteFrame(w, frame.KindInvoke, payload)
}

// ReadInvocation reads the session's first frame and decodes it as an
// Invocation. Any other leading frame kind is a protocol error.
func ReadInvocation(d *frame.Decoder) (Invocation, error) {
	f, err := d.Next()
	if err != nil {
		return Invocation{}, err
	}
	if f.Kind != frame.KindInvoke {
		return Invocation{}, fmt.Errorf("%w: expected INVOKE, got %s", frame.ErrProtocol, f.Kind)
	}
	var inv Invocation
	if err := json.Unmarshal(f.Payload, &inv); err != nil {
		return Invocation{}, fmt.Errorf("decode invocation: %w", err)
	}
	return inv, nil
}

// frameWriter is the minimal interface frame.WriteFrame needs; declared
// here so this file doesn't have to import io just for one parameter type.
type frameWriter interface {
	Write(p []byte) (int, error)
}

// OutputMode decides which frame kinds are forwarded to the client during
// a capture or a replay. Without any of --stdout/--stderr/--stdin, the
// default is the natural one: STDOUT to the client's stdout, STDERR to its
// stderr, STDIN never shown. Any of the three flags present switches to an
// exclusive narrowing: exactly the requested kinds are forwarded (STDIN,
// when requested, is mirrored onto the client's stdout), and kinds the
// user didn't ask for are dropped even if they are STDOUT/STDERR.
type OutputMode struct {
	Stdout bool
	Stderr bool
	Stdin  bool
}

// ModeFromFlags computes the effective OutputMode for one invocation.
func ModeFromFlags(f Flags) OutputMode {
	if !f.Stdout && !f.Stderr && !f.Stdin {
		return OutputMode{Stdout: true, Stderr: true}
	}
	return OutputMode{Stdout: f.Stdout, Stderr: f.Stderr, Stdin: f.Stdin}
}

// Allows reports whether a frame of the given kind should be forwarded to
// the client under this mode. EXIT and KEEP_ALIVE are not governed by
// narrowing: EXIT is always delivered (it carries the terminal status every
// session needs), KEEP_ALIVE is never delivered (never part of a Run).
func (m OutputMode) Allows(k frame.Kind) bool {
	switch k {
	case frame.KindStdout:
		return m.Stdout
	case frame.KindStderr:
		return m.Stderr
	case frame.KindStdin:
		return m.Stdin
	case frame.KindExit:
		return true
	default:
		return false
	}
}
