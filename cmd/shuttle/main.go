package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"shuttleci.dev/core/log"
	"shuttleci.dev/core/shuttle"
)

func main() {
	cmd := &cli.Command{
		Name:  "shuttle",
		Usage: "shuttle CI server",
		Commands: []*cli.Command{
			shuttle.Command(),
		},
	}

	ctx := context.Background()
	logger := log.New("shuttle")
	ctx = log.IntoContext(ctx, logger.With("command", cmd.Name))

	if err := cmd.Run(ctx, os.Args); err != nil {
		logger.Error(err.Error())
		os.Exit(-1)
	}
}
