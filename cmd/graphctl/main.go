// Command graphctl inspects a running detector through its HTTP API: status,
// the anomaly knowledge graph, anomaly images, and weight save requests.
//
// Usage:
//
//	graphctl --addr http://robot:8080 status
//	graphctl graph
//	graphctl image 3 -o anomaly.png
//	graphctl save
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
