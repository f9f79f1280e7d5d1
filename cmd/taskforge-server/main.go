package main

import (
	"os"

	"github.com/taskforge/taskforge/cmd/taskforge-server/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
