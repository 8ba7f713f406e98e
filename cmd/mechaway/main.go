package main

import (
	"os"

	"github.com/insanalamin/mechaway/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
