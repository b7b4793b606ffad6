package main

import (
	"os"

	"github.com/trogers1052/nepse-sentiment/cmd/nepse/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
