// Package shellinit generates the POSIX shell snippet printed by
// `ringneck --init`. It is an external collaborator the core never calls
// into: the supervisor only asks it for text to print.
package shellinit

// Snippet defines two convenience shell functions: `+`, a short alias for
// ringneck, and `++`, the forced (always re-run) variant. Sourcing the
// output of --init into an interactive shell is what wires them up.
func Snippet() string {
	return `+() {
  ringneck "$@"
}
++() {
  ringneck --force "$@"
}
`
}
