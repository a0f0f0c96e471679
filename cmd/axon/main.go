// Command axon turns web-crawl output into vector embeddings: it enqueues
// crawl jobs, runs the background embedding daemon, and offers operator
// commands to inspect and manage the durable job queue.
package main

import (
	"fmt"
	"os"

	"github.com/axon-embed/axon/cmd/axon/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
