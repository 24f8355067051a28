// Command archive runs the conversation archive.
//
// Usage:
//
//	archive serve [--config configs/development.yaml]
//	archive reconcile [--dry-run] [--grace-period 1h]
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
