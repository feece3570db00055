package main

import (
	"os"

	"github.com/chive/pluginrt/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
