//go:build !testcoverage

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args, DefaultConfig()); err != nil {
		stop()
		fatal("%v", err)
	}
}
