package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skyrus-io/skyrus/internal/api"
	"github.com/skyrus-io/skyrus/internal/collector"
	"github.com/skyrus-io/skyrus/internal/config"
	"github.com/skyrus-io/skyrus/internal/lib/logger/sl"
	"github.com/skyrus-io/skyrus/internal/metrics"
	"github.com/skyrus-io/skyrus/internal/opensky"
	"github.com/skyrus-io/skyrus/internal/store"
	"github.com/skyrus-io/skyrus/internal/trigger"
	"github.com/skyrus-io/skyrus/internal/zabbix"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	dryRun := flag.Bool("dry-run", false, "log metrics instead of sending")
	flag.Parse()

	cfg := config.MustLoad(*configPath)

	log := sl.SetupLogger(cfg.Log.Level, cfg.Log.Format)

	log.Info("starting skyrus collector",
		slog.String("env", cfg.Env),
		slog.Duration("interval", cfg.Polling.Interval),
		slog.Bool("dry_run", *dryRun),
	)

	flightStore, err := store.NewFlightStore(log, cfg.Store.Path)
	if err != nil {
		log.Error("failed to open flight store", sl.Err(err))
		os.Exit(1)
	}

	tokens := opensky.NewTokenManager(
		log,
		cfg.OpenSky.TokenURL,
		cfg.OpenSky.ClientID,
		cfg.OpenSky.ClientSecret,
		cfg.OpenSky.AuthTimeout,
	)
	if tokens.Enabled() {
		log.Info("opensky oauth enabled")
	}

	source := opensky.NewClient(log, cfg.OpenSky, tokens)

	var metricSender zabbix.Sender
	switch {
	case *dryRun || cfg.Zabbix.Mode == "log":
		metricSender = zabbix.NewLogSender(log)
		log.Info("dry-run mode: metrics will be logged instead of sent")
	case cfg.Zabbix.Mode == "command":
		metricSender = zabbix.NewCommandSender(log, cfg.Zabbix.SenderPath, cfg.Zabbix.Server, cfg.Zabbix.Port, cfg.Zabbix.Hostname, cfg.Zabbix.Timeout)
	default:
		metricSender = zabbix.NewTrapperSender(log, cfg.Zabbix.Server, cfg.Zabbix.Port, cfg.Zabbix.Hostname, cfg.Zabbix.Timeout)
	}

	aggregator := metrics.NewAggregator(log, flightStore, cfg.OpenSky.BoundingBox)

	triggerStore, err := trigger.NewStore(log, cfg.Triggers.Path)
	if err != nil {
		log.Error("failed to open trigger store", sl.Err(err))
		os.Exit(1)
	}

	var remote trigger.RemoteControl
	if cfg.Zabbix.API.User != "" {
		remote = zabbix.NewRPCClient(log, cfg.Zabbix.API.URL, cfg.Zabbix.API.User, cfg.Zabbix.API.Password, cfg.Zabbix.API.Timeout)
	} else {
		log.Warn("no zabbix api credentials, trigger sync is local-only")
	}

	triggerService := trigger.NewService(log, triggerStore, remote)

	manager := collector.NewManager(
		log,
		cfg.Polling.Interval,
		source,
		flightStore,
		aggregator,
		metricSender,
		tokens.Enabled(),
	)

	apiServer := api.NewServer(log, cfg.API.Address, triggerService, manager, flightStore.Count)
	apiServer.AddChecker(api.NewStoreHealthChecker(flightStore.Ping))
	apiServer.AddChecker(api.NewZabbixHealthChecker(metricSender.Health))

	if err := apiServer.Start(); err != nil {
		log.Error("failed to start api server", sl.Err(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", slog.String("signal", sig.String()))
		cancel()
	}()

	manager.Start(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	manager.Stop()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error("failed to stop api server", sl.Err(err))
	}

	if err := flightStore.Close(); err != nil {
		log.Error("failed to close flight store", sl.Err(err))
	}

	log.Info("collector stopped")
}
