// Package main is the entry point for the keysyncd demo/smoke-test daemon.
package main

import (
	"os"

	"github.com/exmg/keysync/cmd/keysyncd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
