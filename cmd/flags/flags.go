// Package flags holds the CLI flags and setup helpers shared by the signer binaries.
package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/tee-signer-fabric/common"
	"github.com/ruteri/tee-signer-fabric/httpserver"
	"github.com/urfave/cli/v2"
)

// SetupLogger builds the process logger from the logging flags.
func SetupLogger(cCtx *cli.Context) *slog.Logger {
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cCtx.Bool(LogDebugFlag.Name),
		JSON:    cCtx.Bool(LogJsonFlag.Name),
		Service: cCtx.String("log-service"),
		Version: common.Version,
	})
	if cCtx.Bool(LogUidFlag.Name) {
		logger = logger.With("uid", uuid.Must(uuid.NewRandom()).String())
	}
	return logger
}

// ConfigureServer derives the ops API server config from the common flags.
func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *httpserver.HTTPServerConfig {
	return &httpserver.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              cCtx.String(MetricsAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		DrainDuration:            time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second,
		GracefulShutdownDuration: cCtx.Duration(ShutdownTimeoutFlag.Name),
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var (
	LogJsonFlag = &cli.BoolFlag{
		Name:    "log-json",
		EnvVars: []string{"SIGNER_LOG_JSON"},
		Usage:   "emit logs as JSON",
	}
	LogDebugFlag = &cli.BoolFlag{
		Name:    "log-debug",
		EnvVars: []string{"SIGNER_LOG_DEBUG"},
		Usage:   "include debug level logs",
	}
	LogUidFlag = &cli.BoolFlag{
		Name:  "log-uid",
		Usage: "tag every log line with a random per-process uuid",
	}
)

func LogServiceFlagFn(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "value of the 'service' log attribute",
	}
}

var (
	PprofFlag = &cli.BoolFlag{
		Name:  "pprof",
		Usage: "serve pprof under /debug on the ops API",
	}
	DrainSecondsFlag = &cli.Int64Flag{
		Name:  "drain-seconds",
		Value: 45,
		Usage: "how long /drain keeps the node out of rotation before logging completion",
	}
	ShutdownTimeoutFlag = &cli.DurationFlag{
		Name:  "shutdown-timeout",
		Value: 30 * time.Second,
		Usage: "upper bound on graceful shutdown of each listener",
	}
	MetricsAddrFlag = &cli.StringFlag{
		Name:    "metrics-addr",
		EnvVars: []string{"SIGNER_METRICS_ADDR"},
		Value:   "127.0.0.1:8090",
		Usage:   "Prometheus listen address; empty disables metrics",
	}
)

var LogFlags = []cli.Flag{LogJsonFlag, LogDebugFlag, LogUidFlag}

var CommonFlags = append(append([]cli.Flag{}, LogFlags...), PprofFlag, DrainSecondsFlag, ShutdownTimeoutFlag, MetricsAddrFlag)
