package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dukex/deskflow/pkg/actions"
	"github.com/dukex/deskflow/pkg/audit"
	"github.com/dukex/deskflow/pkg/classifier"
	"github.com/dukex/deskflow/pkg/eventbus"
	"github.com/dukex/deskflow/pkg/metrics"
	"github.com/dukex/deskflow/pkg/notifier"
	"github.com/dukex/deskflow/pkg/otelhelper"
	"github.com/dukex/deskflow/pkg/protocol"
	"github.com/dukex/deskflow/pkg/workflow"
	"go.opentelemetry.io/otel/trace"
)

// Config carries the settings shared by every deskflow binary.
type Config struct {
	ServiceName   string
	DatabaseURL   string
	EventBus      string
	KafkaBrokers  string
	RedisURL      string
	ClassifierURL string
	ClassifierRPS float64
	OTelEndpoint  string
	FailOnCycles  bool
}

// Runtime is a fully wired engine with everything it depends on.
type Runtime struct {
	Storage  *Storage
	EventBus eventbus.EventBus
	Coord    *Coordination
	Metrics  *metrics.Metrics
	Engine   *workflow.Engine

	shutdownTracer otelhelper.ShutdownFunc
	logger         *slog.Logger
}

// NewRuntime connects to the configured backends and builds the engine.
// Whatever was opened before a failure is closed again.
func NewRuntime(ctx context.Context, logger *slog.Logger, cfg Config) (*Runtime, error) {
	rt := &Runtime{
		Metrics: metrics.New(),
		logger:  logger.With("module", "runtime"),
	}

	err := rt.connect(ctx, logger, cfg)
	if err != nil {
		_ = rt.Close(context.WithoutCancel(ctx))

		return nil, err
	}

	return rt, nil
}

func (rt *Runtime) connect(ctx context.Context, logger *slog.Logger, cfg Config) error {
	var err error

	rt.Storage, err = NewStorage(ctx, logger, cfg.DatabaseURL)
	if err != nil {
		return err
	}

	rt.EventBus, err = NewEventBus(cfg.EventBus, cfg.KafkaBrokers, cfg.ServiceName, logger)
	if err != nil {
		return err
	}

	rt.Coord, err = NewCoordination(ctx, logger, cfg.RedisURL)
	if err != nil {
		return err
	}

	tracer, err := rt.tracer(ctx, cfg)
	if err != nil {
		return err
	}

	dispatcher := actions.NewDispatcher(actions.Dependencies{
		Store:      rt.Storage.Store,
		Directory:  rt.Storage.Directory,
		Classifier: NewClassifier(logger, cfg.ClassifierURL, cfg.ClassifierRPS),
		Notifier:   notifier.NewEventNotifier(rt.EventBus),
		Logger:     logger,
	})

	var opts []workflow.Option
	if cfg.FailOnCycles {
		opts = append(opts, workflow.WithCyclePolicy(workflow.CyclePolicyFail))
	}

	rt.Engine = workflow.NewEngine(workflow.Dependencies{
		Persistence: rt.Storage.Persistence,
		Store:       rt.Storage.Store,
		Dispatcher:  dispatcher,
		Audit: audit.Multi{
			audit.NewPersistenceSink(rt.Storage.Persistence.AuditRepository()),
			audit.NewEventSink(rt.EventBus),
		},
		Locker:  rt.Coord.Locker,
		Delays:  rt.Coord.Delays,
		Tracer:  tracer,
		Metrics: rt.Metrics,
		Logger:  logger,
	}, opts...)

	return nil
}

// NewClassifier returns an HTTP classifier, or one that always reports
// itself unavailable when no URL is configured.
//
//nolint:ireturn
func NewClassifier(logger *slog.Logger, url string, rps float64) protocol.Classifier {
	if url == "" {
		return classifier.Unavailable{}
	}

	opts := []classifier.Option{classifier.WithLogger(logger)}
	if rps > 0 {
		opts = append(opts, classifier.WithRateLimit(rps, max(1, int(rps)*2)))
	}

	return classifier.NewClient(url, opts...)
}

//nolint:ireturn
func (rt *Runtime) tracer(ctx context.Context, cfg Config) (trace.Tracer, error) {
	if cfg.OTelEndpoint == "" {
		return otelhelper.NoopTracer(), nil
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, cfg.ServiceName)
	if err != nil {
		return nil, err
	}

	rt.shutdownTracer = shutdown

	return tracer, nil
}

// Close drains the engine and releases every backend, in reverse order of
// creation.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error

	if rt.Engine != nil {
		errs = append(errs, rt.Engine.Shutdown(ctx))
	}

	if rt.shutdownTracer != nil {
		errs = append(errs, rt.shutdownTracer(ctx))
	}

	if rt.Coord != nil {
		errs = append(errs, rt.Coord.Close())
	}

	if rt.EventBus != nil {
		errs = append(errs, rt.EventBus.Close())
	}

	if rt.Storage != nil {
		errs = append(errs, rt.Storage.Persistence.Close(ctx))
	}

	err := errors.Join(errs...)
	if err != nil {
		rt.logger.ErrorContext(ctx, "Failed to close runtime cleanly", "error", err)
	}

	return err
}
