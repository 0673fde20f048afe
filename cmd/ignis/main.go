package main

import (
	"os"

	"github.com/ignishq/ignis/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
