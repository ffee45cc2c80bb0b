package main

import (
	"context"
	"os"

	"github.com/dukex/deskflow/pkg/cmd"
	"github.com/dukex/deskflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "deskflow-api",
		Usage:                 "Manage workflows and rules, trigger and inspect executions",
		EnableShellCompletion: true,
		Flags: append([]cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
		}, cmd.CommonFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("api")

			logger.InfoContext(ctx, "Initializing Deskflow API")

			runtime, err := cmd.NewRuntime(ctx, logger, cmd.ConfigFromCommand(command, "deskflow-api"))
			if err != nil {
				return err
			}

			defer func() {
				_ = runtime.Close(context.WithoutCancel(ctx))
			}()

			api := NewAPI(logger, runtime)

			return api.Start(ctx, command.Int("port"))
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule("api").Error("Deskflow API stopped", "error", err)
		os.Exit(1)
	}
}
