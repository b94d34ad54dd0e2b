package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Set through -ldflags at release time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
