// clinicsync CLI entry point
//
// clinicsync keeps a multi-tenant clinic administration client usable while
// the network is down. It runs a local caching proxy in front of the backend,
// keeps tenant-scoped snapshots of what it has seen, and queues writes made
// offline until the backend is reachable again.
package main

import "github.com/jbctechsolutions/clinicsync/internal/presentation/cli/commands"

func main() {
	commands.Execute()
}
