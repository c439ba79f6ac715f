package main

import (
	"os"

	"github.com/resily/resily/cli"
)

func main() {
	if err := cli.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
