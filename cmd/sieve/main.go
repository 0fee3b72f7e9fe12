// Command sieve validates filter definitions, shows how filters are
// rewritten for a native store, and runs filter scenarios.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/roach88/sieve/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "sieve:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
