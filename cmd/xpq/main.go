package main

import (
	"os"

	"github.com/jrife/crossquery/cmd"
)

func main() {
	if err := cmd.NewCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
