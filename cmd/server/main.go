package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andy6609/chat-server/internal/account"
	"github.com/andy6609/chat-server/internal/account/migrations"
	"github.com/andy6609/chat-server/internal/chat"
	"github.com/andy6609/chat-server/internal/config"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	envFile := flag.String("env-file", ".env", "optional dotenv file")
	flag.Parse()

	if err := run(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(envFile string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	logger := logs.GetLoggerFromString(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", "error", err)
		}
	}()

	accounts := account.NewManager(store, account.DefaultHasher(), logger)
	if err := accounts.EnsureAccount(ctx, cfg.ServerName, cfg.ServerAccountPassword); err != nil {
		return fmt.Errorf("server account: %w", err)
	}

	srv := chat.NewServer(chat.Config{
		Addr:                cfg.Addr(),
		ServerName:          cfg.ServerName,
		MaxConnections:      cfg.MaxConnections,
		ReadBufferSize:      cfg.ReadBufferSize,
		OutboundBufferSize:  cfg.OutboundBufferSize,
		WriteTimeout:        cfg.WriteTimeout,
		IdleTimeout:         cfg.IdleTimeout,
		HistoryDefaultLimit: cfg.HistoryDefaultLimit,
		HistoryMaxLimit:     cfg.HistoryMaxLimit,
	}, accounts, logger)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start chat server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("metrics endpoint started", "addr", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		srv.Stop()
		if metricsSrv == nil {
			return nil
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (account.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		if err := migrations.Up(cfg.DatabaseURL, logger); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return account.OpenPostgres(ctx, cfg.DatabaseURL)
	default:
		return account.OpenBadger(cfg.BadgerFilepath, logger)
	}
}
