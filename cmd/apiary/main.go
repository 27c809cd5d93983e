package main

import (
	"fmt"
	"os"

	"github.com/apiary/apiary/internal/cli"
)

func main() {
	command := cli.NewApiaryCommand()
	if err := command.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
