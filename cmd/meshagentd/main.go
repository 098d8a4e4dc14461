// Command meshagentd runs one mesh node's self-migrating service host
// agent: it hosts a user-supplied service process, watches which peers
// talk to it, and hands the service off to a better-placed node over
// TCP when the traffic pattern warrants it.
package main

import (
	"fmt"
	"os"

	"github.com/meshnet-project/meshagentd/internal/cli"
	"github.com/meshnet-project/meshagentd/internal/version"
)

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			fmt.Println(version.Full())
			return
		}
	}

	if err := cli.Run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "meshagentd:", err)
		os.Exit(1)
	}
}
