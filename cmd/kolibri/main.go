// Command kolibri runs a single swarm node: a formula pool that learns
// small arithmetic rules from teacher examples, an HMAC-chained genome
// log of everything the node does, and a UDP gossip link to peers.
package main

import (
	"os"

	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cmd := newRootCommand(logger)
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
