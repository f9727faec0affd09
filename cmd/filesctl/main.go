package main

import (
	"os"

	"github.com/tendant/simple-files/cmd/filesctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
