// Command linkpulse runs the credit ledger, payment callbacks and backlink
// watch scheduler.
package main

import (
	"os"

	"github.com/linkpulse/linkpulse/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
