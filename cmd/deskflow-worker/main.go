package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/deskflow/pkg/cmd"
	"github.com/dukex/deskflow/pkg/log"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "deskflow-worker",
		Usage:                 "Evaluate rules on entity changes and resume delayed executions",
		EnableShellCompletion: true,
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "How often the delay queue is checked for due executions",
				Value:   time.Second,
				Sources: cli.EnvVars("DELAY_POLL_INTERVAL"),
			},
		}, cmd.CommonFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("deskflow-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Deskflow Worker")

			runtime, err := cmd.NewRuntime(ctx, logger, cmd.ConfigFromCommand(command, "deskflow-worker"))
			if err != nil {
				return err
			}

			defer func() {
				_ = runtime.Close(context.WithoutCancel(ctx))
			}()

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			worker := NewWorker(
				workerID,
				runtime.Engine,
				runtime.EventBus,
				runtime.Coord.Delays,
				command.Duration("poll-interval"),
				logger,
			)

			return worker.Start(ctx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule("deskflow-worker").Error("Deskflow Worker stopped", "error", err)
		os.Exit(1)
	}
}
