// Package client implements the short-lived side of a ringneck session: CLI
// parsing, supervisor autostart, and the invocation/response round trip.
package client

import (
	"fmt"

	"github.com/blob79/ringneck/internal/ipc"
)

// Parsed is the result of splitting argv into ringneck's own flags and the
// child command line they wrap.
type Parsed struct {
	Flags ipc.Flags
	Argv  []string
}

// Parse splits args the way the CLI surface demands: recognized flags are
// consumed only up to the first token that isn't one of them, or up to a
// literal "--", whichever comes first. Everything from that point on is the
// child's argv, untouched even if it looks like a ringneck flag — this is
// what lets `ringneck history -l` and `ringneck --history` both do what
// they look like they do.
func Parse(args []string) (Parsed, error) {
	var flags ipc.Flags
	i := 0
loop:
	for i < len(args) {
		switch args[i] {
		case "--":
			i++
			break loop
		case "--force":
			flags.Force = true
		case "--stdout":
			flags.Stdout = true
		case "--stderr":
			flags.Stderr = true
		case "--stdin":
			flags.Stdin = true
		case "--history":
			flags.History = true
		case "--forget":
			flags.Forget = true
		case "--shutdown":
			flags.Shutdown = true
		case "--init":
			flags.Init = true
		case "--key":
			if i+1 >= len(args) {
				return Parsed{}, fmt.Errorf("--key requires a value")
			}
			flags.Key = args[i+1]
			i++
		default:
			break loop
		}
		i++
	}
	return Parsed{Flags: flags, Argv: args[i:]}, nil
}

// IsMeta reports whether f names an operation that doesn't need a child
// command line (history, forget, shutdown, init, or a keyed replay).
func IsMeta(f ipc.Flags) bool {
	return f.History || f.Forget || f.Shutdown || f.Init || f.Key != ""
}
