package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/config"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/observability/logging"
	telemetry "github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/observability/otel"
)

const (
	serviceName    = "flyblox"
	genesisPathEnv = "FLYBLOX_GENESIS"
	shutdownGrace  = 10 * time.Second
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a YAML genesis file (overrides FLYBLOX_GENESIS and config GenesisFile)")
	flag.Parse()

	if err := run(*configFile, *genesisFlag); err != nil {
		fmt.Fprintf(os.Stderr, "flyblox: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile, genesisFlag string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser := logging.Setup(serviceName, cfg.Environment, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.ResolvePath(cfg.Logging.File),
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("Telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	genesis, err := loadGenesis(resolveGenesisPath(genesisFlag, cfg.GenesisFile, os.LookupEnv))
	if err != nil {
		return err
	}

	n, err := newNode(cfg, genesis, logger)
	if err != nil {
		return err
	}
	defer n.Close()

	interval, err := cfg.Escrow.SolvencyInterval()
	if err != nil {
		return fmt.Errorf("escrow solvency interval: %w", err)
	}
	go n.maintain(ctx, interval)
	if n.webhooks != nil {
		go n.webhooks.Follow(ctx, n.hub)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- n.server.Start(cfg.ListenAddress)
	}()
	logger.Info("Flyblox escrow node started",
		slog.String("listen", cfg.ListenAddress),
		slog.String("storage", cfg.Storage.Backend),
		slog.String("indexer", cfg.Indexer.Driver),
		logging.MaskField("webhook_endpoint", cfg.Webhooks.Endpoint))

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("rpc server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := n.server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("RPC shutdown incomplete", slog.Any("error", err))
	}
	return <-serveErr
}

// resolveGenesisPath picks the genesis file by precedence: flag, environment,
// then config. An empty result means no genesis is applied.
func resolveGenesisPath(flagValue, configValue string, lookupEnv func(string) (string, bool)) string {
	if trimmed := strings.TrimSpace(flagValue); trimmed != "" {
		return trimmed
	}
	if lookupEnv != nil {
		if value, ok := lookupEnv(genesisPathEnv); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return strings.TrimSpace(configValue)
}

func loadGenesis(path string) (*config.ResolvedGenesis, error) {
	if path == "" {
		return nil, nil
	}
	genesis, err := config.LoadGenesis(path)
	if err != nil {
		return nil, fmt.Errorf("load genesis %s: %w", path, err)
	}
	return genesis, nil
}
