package main

import (
	"os"

	cli "zotregistry.dev/zprune/pkg/cli/zprune"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
