package main

import (
	"os"

	"github.com/harun/conductor/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
