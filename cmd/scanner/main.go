package main

import (
	"os"

	"lanyard/cmd/internal/scancli"
)

func main() {
	if err := scancli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
