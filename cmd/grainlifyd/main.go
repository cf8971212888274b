package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/codebestia/grainlify/config"
	"github.com/codebestia/grainlify/core/events"
	"github.com/codebestia/grainlify/core/state"
	"github.com/codebestia/grainlify/native/common"
	"github.com/codebestia/grainlify/native/escrow"
	"github.com/codebestia/grainlify/observability/logging"
	"github.com/codebestia/grainlify/rpc"
	"github.com/codebestia/grainlify/storage"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./config.toml", "path to the daemon configuration file")
	flag.Parse()

	if err := run(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "grainlifyd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.SetupWithOptions("grainlifyd", cfg.Environment, logging.Options{
		File:       cfg.LogFile,
		MaxSizeMB:  100,
		MaxBackups: 7,
		MaxAgeDays: 28,
	})

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer db.Close()

	manager := state.NewManager(db)
	sink := events.NewMemorySink()
	engine := escrow.NewEngine()
	engine.SetState(manager)
	engine.SetEmitter(sink)

	// A crash between guard enter and exit leaves the persisted flag set;
	// nothing is in flight yet, so clear it before serving.
	if err := engine.ResetGuard(); err != nil {
		return fmt.Errorf("reset reentrancy guard: %w", err)
	}

	if err := initContract(engine, cfg, logger); err != nil {
		return err
	}

	server := rpc.NewServer(engine, sink, logger, rpc.ServerConfig{
		AuthToken:         os.Getenv("GRAINLIFY_RPC_TOKEN"),
		RequestsPerMinute: cfg.RPCRequestsPerMinute,
		Burst:             cfg.RPCBurst,
	})

	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("rpc server listening",
			slog.String("address", cfg.RPCAddress),
			slog.String("network", cfg.NetworkName),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("rpc server: %w", err)
	case sig := <-stop:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// initContract performs the one-time on-ledger initialization: set the admin
// and seed the anti-abuse limiter from the config file. On restarts the ledger
// already carries both and the seed values are ignored.
func initContract(engine *escrow.Engine, cfg *config.Config, logger *slog.Logger) error {
	admin, err := parseAddress(cfg.AdminAddress)
	if err != nil {
		return fmt.Errorf("AdminAddress: %w", err)
	}

	initErr := engine.Init(admin)
	switch {
	case initErr == nil:
		abuseCfg := &common.AbuseConfig{
			WindowLength:     cfg.AntiAbuse.WindowLengthSeconds,
			MaxOpsPerWindow:  cfg.AntiAbuse.MaxOpsPerWindow,
			CooldownDuration: cfg.AntiAbuse.CooldownDurationSeconds,
		}
		for i, raw := range cfg.AntiAbuse.Whitelist {
			addr, err := parseAddress(raw)
			if err != nil {
				return fmt.Errorf("AntiAbuse.Whitelist[%d]: %w", i, err)
			}
			abuseCfg.Whitelist = append(abuseCfg.Whitelist, addr)
		}
		if err := engine.SetAbuseConfig(admin, abuseCfg); err != nil {
			return fmt.Errorf("seed anti-abuse config: %w", err)
		}
		logger.Info("contract initialized", slog.String("admin", cfg.AdminAddress))
	case errors.Is(initErr, escrow.ErrAlreadyInitialized):
		logger.Info("contract already initialized, reusing ledger state")
	default:
		return fmt.Errorf("initialize contract: %w", initErr)
	}
	return nil
}

func parseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if len(trimmed) != 40 {
		return addr, fmt.Errorf("expected 20 bytes of hex")
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("expected hex encoding")
	}
	copy(addr[:], raw)
	return addr, nil
}
