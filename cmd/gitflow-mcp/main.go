package main

import (
	"fmt"
	"os"

	"github.com/gitflow-ai/gitflow-mcp/internal/cli"
)

func main() {
	cmd := cli.NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
