// Package bot wires the upvotebot daemon together and owns its lifecycle.
package bot

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"upvotebot/auditlog"
	"upvotebot/config"
	"upvotebot/dispenser"
	"upvotebot/engine"
	"upvotebot/observability"
	"upvotebot/observability/logging"
	telemetry "upvotebot/observability/otel"
	"upvotebot/state"
	"upvotebot/watcher"
)

const serviceName = "upvotebotd"

// Main initialises and runs the daemon. A non-nil return means a fatal
// failure; the process should exit non-zero.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to optional YAML configuration")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	params, err := cfg.Validate()
	if err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logger := logging.Setup(serviceName, params.Environment)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnv(serviceName, params.Environment))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	audit, err := auditlog.New(params.LogDir)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer audit.Close()

	store := state.NewStore(params.StateFile)
	rec, err := store.Load()
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	logger.Info("state loaded",
		"processed", rec.ProcessedCount(),
		"last_block", rec.LastBlock(),
		"file", params.StateFile,
	)

	dialCtx, cancelDial := context.WithTimeout(context.Background(), 30*time.Second)
	client, err := ethclient.DialContext(dialCtx, params.RPCURL)
	cancelDial()
	if err != nil {
		return fmt.Errorf("dial ledger rpc: %w", err)
	}
	defer client.Close()

	chainCtx, cancelChain := context.WithTimeout(context.Background(), 10*time.Second)
	chainID, err := client.ChainID(chainCtx)
	cancelChain()
	if err != nil {
		return fmt.Errorf("read chain id: %w", err)
	}

	contract, err := dispenser.NewClient(client, params.DispenserAddress)
	if err != nil {
		return fmt.Errorf("bind dispenser contract: %w", err)
	}
	metrics := observability.Bot()
	cache := dispenser.NewCache(contract, params.ConfigTTL, params.RequiredUpvotes, logger)
	dispatcher := dispenser.NewDispatcher(contract, params.Signer, chainID, logger)

	eng := engine.New(rec, cache, dispatcher, audit, params.RequiredUpvotes,
		engine.WithLogger(logger),
		engine.WithMetrics(metrics),
		engine.WithVotesReader(contract),
	)
	watch := watcher.New(client, params.AppAddress, params.AssetAddress, params.RequiredUpvotes, rec, eng, audit,
		watcher.WithLogger(logger),
		watcher.WithMetrics(metrics),
	)

	// Initial dispenser read, so the start record carries a real snapshot and
	// a dead contract address surfaces immediately in the logs.
	startCtx, cancelStart := context.WithTimeout(context.Background(), 15*time.Second)
	snapshot := cache.Refresh(startCtx)
	cancelStart()
	if !snapshot.Stale {
		rec.RecordSnapshot(snapshot.UpvotesRequired, snapshot.Inventory(), snapshot.FetchedAt)
	}
	metrics.RecordInventory(snapshot.Inventory())
	if err := audit.Info(auditlog.TypeBotStarted, map[string]any{
		"signer":    params.SignerAddress.Hex(),
		"dispenser": params.DispenserAddress.Hex(),
		"asset":     params.AssetAddress.Hex(),
		"app":       params.AppAddress.Hex(),
		"required":  params.RequiredUpvotes,
		"threshold": snapshot.UpvotesRequired,
		"inventory": snapshot.Inventory(),
		"stale":     snapshot.Stale,
	}); err != nil {
		logger.Warn("audit record dropped", "type", string(auditlog.TypeBotStarted), "error", err)
	}

	httpServer := &http.Server{
		Addr:         params.ListenAddress,
		Handler:      newAdminRouter(rec, time.Now()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runCtx, cancelRun := context.WithCancel(stopCtx)
	defer cancelRun()

	beat := &heartbeat{
		cache:    cache,
		store:    store,
		rec:      rec,
		audit:    audit,
		logger:   logger,
		metrics:  metrics,
		interval: params.PollInterval,
	}
	go beat.run(runCtx)

	watchErrs := make(chan error, 1)
	go func() { watchErrs <- watch.Run(runCtx) }()

	httpErrs := make(chan error, 1)
	go func() {
		logger.Info("admin listener up", "addr", params.ListenAddress)
		httpErrs <- httpServer.ListenAndServe()
	}()

	var runErr error
	select {
	case <-stopCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-watchErrs:
		if err != nil {
			logger.Error("event watch failed", "error", err)
			runErr = err
		}
	case err := <-httpErrs:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("admin listener failed", "error", err)
			runErr = err
		}
	}
	cancelRun()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		_ = httpServer.Close()
	}

	// Final state flush; a failure here costs at most one heartbeat of
	// bookkeeping on the next start.
	if err := store.Save(rec); err != nil {
		logger.Warn("final state persistence failed", "error", err)
	}
	if err := audit.Info(auditlog.TypeBotStopped, map[string]any{
		"processed":  rec.ProcessedCount(),
		"last_block": rec.LastBlock(),
	}); err != nil {
		logger.Warn("audit record dropped", "type", string(auditlog.TypeBotStopped), "error", err)
	}
	return runErr
}
