package main

import (
	"os"

	"github.com/hitoshi/authgate/internal/app"
)

func main() {
	if err := app.NewRootCommand(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}
