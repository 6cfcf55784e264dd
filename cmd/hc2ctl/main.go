package main

import (
	"os"

	"github.com/moroshma/hc2stream/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
