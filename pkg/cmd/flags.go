package cmd

import (
	cli "github.com/urfave/cli/v3"
)

// CommonFlags are accepted by every deskflow binary.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL for persistence (postgres://... or file://path)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (kafka, memory)",
			Value:   "memory",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated list of Kafka brokers",
			Value:   "localhost:9092",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for delayed executions and entity locks",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "classifier-url",
			Usage:   "Base URL of the ticket classification service",
			Sources: cli.EnvVars("CLASSIFIER_URL"),
		},
		&cli.FloatFlag{
			Name:    "classifier-rps",
			Usage:   "Maximum classifier requests per second",
			Value:   10,
			Sources: cli.EnvVars("CLASSIFIER_RPS"),
		},
		&cli.BoolFlag{
			Name:    "fail-on-cycles",
			Usage:   "Fail workflow executions whose graph contains a reachable cycle",
			Sources: cli.EnvVars("FAIL_ON_CYCLES"),
		},
		&cli.StringFlag{
			Name:    "otel-endpoint",
			Usage:   "OTLP HTTP endpoint; tracing is disabled when empty",
			Sources: cli.EnvVars("OTEL_EXPORTER_OTLP_ENDPOINT"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

// ConfigFromCommand reads the common flags.
func ConfigFromCommand(command *cli.Command, serviceName string) Config {
	return Config{
		ServiceName:   serviceName,
		DatabaseURL:   command.String("database-url"),
		EventBus:      command.String("event-bus"),
		KafkaBrokers:  command.String("kafka-brokers"),
		RedisURL:      command.String("redis-url"),
		ClassifierURL: command.String("classifier-url"),
		ClassifierRPS: command.Float("classifier-rps"),
		OTelEndpoint:  command.String("otel-endpoint"),
		FailOnCycles:  command.Bool("fail-on-cycles"),
	}
}
