package main

import (
	"context"
	"fmt"
	"os"

	"regsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "regsync:", err)
		os.Exit(1)
	}
}
