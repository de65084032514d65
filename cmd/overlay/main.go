package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/donation-overlay/internal/application"
	"github.com/eugenenazirov/donation-overlay/internal/config"
	"github.com/eugenenazirov/donation-overlay/internal/logging"
)

var signalNotify = signal.Notify

func main() {
	overrides, err := parseFlags(os.Args[1:])
	kingpin.FatalIfError(err, "invalid arguments")

	if err := config.LoadDotEnv(); err != nil {
		panic(fmt.Sprintf("failed to load .env files: %v", err))
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	app, err := application.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	if err := app.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	shutdown(app.Server(), cfg.ShutdownGracePeriod, logger, app.Close)
}

// parseFlags maps command-line flags onto configuration overrides. Flags
// left at their sentinel defaults do not override anything.
func parseFlags(args []string) (*config.CLIOverrides, error) {
	kingpinApp := kingpin.New("donation-overlay", "Donation goal overlay - tracks progress toward a fundraising goal from a live donation feed")
	configFile := kingpinApp.Flag("config", "Path to YAML configuration file").String()
	port := kingpinApp.Flag("port", "HTTP port exposed by the service").String()
	storePath := kingpinApp.Flag("store-path", "Progress database file (\":memory:\" keeps progress in memory)").String()
	query := kingpinApp.Flag("query", "Page query applied at startup, e.g. goal=500&initialAmount=100").String()
	rateLimitRPSFlag := kingpinApp.Flag("rate-limit-rps", "Requests per second allowed (set 0 to disable)").Default("-1").Float64()
	rateLimitBurstFlag := kingpinApp.Flag("rate-limit-burst", "Burst capacity for rate limiter (set 0 to disable)").Default("-1").Int()

	if _, err := kingpinApp.Parse(args); err != nil {
		return nil, err
	}

	overrides := &config.CLIOverrides{
		ConfigFile: *configFile,
	}

	if *port != "" {
		overrides.Port = port
	}

	if *storePath != "" {
		overrides.StorePath = storePath
	}

	if *query != "" {
		overrides.Query = query
	}

	if *rateLimitRPSFlag >= 0 {
		overrides.RateLimitRPS = rateLimitRPSFlag
	}

	if *rateLimitBurstFlag >= 0 {
		overrides.RateLimitBurst = rateLimitBurstFlag
	}

	return overrides, nil
}

// shutdown blocks until a termination signal arrives, drains the HTTP server
// and then runs release. The overlay runtime is released only after the
// server stops so open streams see a clean close.
func shutdown(server *http.Server, timeout time.Duration, logger *zap.Logger, release func() error) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	logger.Info("shutting down overlay", zap.String("signal", sig.String()), zap.Duration("grace_period", timeout))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}

	if release == nil {
		return
	}
	if err := release(); err != nil {
		logger.Warn("failed to release overlay resources", zap.Error(err))
	}
}
