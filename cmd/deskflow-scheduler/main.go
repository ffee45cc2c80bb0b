package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/deskflow/pkg/cmd"
	"github.com/dukex/deskflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultSchedule = "* * * * *"

func main() {
	command := &cli.Command{
		Name:                  "deskflow-scheduler",
		Usage:                 "Fire scheduled rules against matching entities",
		EnableShellCompletion: true,
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "Cron expression for scheduling passes",
				Value:   defaultSchedule,
				Sources: cli.EnvVars("SCHEDULE"),
			},
		}, cmd.CommonFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("deskflow-scheduler")

			logger.InfoContext(ctx, "Initializing Deskflow Scheduler")

			runtime, err := cmd.NewRuntime(ctx, logger, cmd.ConfigFromCommand(command, "deskflow-scheduler"))
			if err != nil {
				return err
			}

			defer func() {
				_ = runtime.Close(context.WithoutCancel(ctx))
			}()

			scheduler, err := NewScheduler(runtime.Engine, command.String("schedule"), logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return scheduler.Start(ctx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule("deskflow-scheduler").Error("Deskflow Scheduler stopped", "error", err)
		os.Exit(1)
	}
}
