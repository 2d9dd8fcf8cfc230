// Command ringneck is the client half of the memoizing command runner: it
// parses its own flags, hands the rest of argv to the supervisor, and
// exits with the child's own status once the run completes.
package main

import (
	"fmt"
	"os"

	"github.com/blob79/ringneck/internal/client"
	"github.com/blob79/ringneck/internal/ringconfig"
)

func main() {
	cacheDir, err := ringconfig.CacheDir()
	if err != nil {
		fatal("resolve cache dir: %v", err)
	}
	if err := ringconfig.EnsureCacheDir(cacheDir); err != nil {
		fatal("create cache dir: %v", err)
	}

	cfg, err := ringconfig.Load(cacheDir)
	if err != nil {
		fatal("load config: %v", err)
	}

	sockPath, err := ringconfig.SocketPath()
	if err != nil {
		fatal("resolve socket path: %v", err)
	}

	supervisorPath, err := client.LocateSupervisor()
	if err != nil {
		fatal("locate ringneckd: %v", err)
	}

	os.Exit(client.Run(sockPath, supervisorPath, cfg, os.Args[1:]))
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "ringneck: "+format+"\n", args...)
	os.Exit(1)
}
