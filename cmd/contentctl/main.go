// Command contentctl is the operator CLI for the content pipeline: it sends
// content straight to the queue, manages API keys, issues tokens, inspects
// dead letters and flushes the query cache.
package main

import (
	"os"

	"github.com/Adithya-Monish-Kumar-K/content-pipeline/cmd/contentctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
