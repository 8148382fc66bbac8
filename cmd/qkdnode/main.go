package main

import (
	"os"

	"github.com/opd-ai/qkd/cmd/qkdnode/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
