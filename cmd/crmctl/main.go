package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"crmcore/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, cli.ErrNotified) {
			fmt.Fprintf(os.Stderr, "crmctl: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}
