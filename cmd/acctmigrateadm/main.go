package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/lherron/acctmigrate/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.ExecuteAdmin(ctx)
	stop()

	cli.PrintError(os.Stderr, err)
	os.Exit(cli.ExitCode(err))
}
