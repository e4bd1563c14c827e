package main

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/alice2025ai/alice-ai-server/docs"
	"github.com/alice2025ai/alice-ai-server/internal/auth"
	"github.com/alice2025ai/alice-ai-server/internal/chain"
	"github.com/alice2025ai/alice-ai-server/internal/config"
	serverhttp "github.com/alice2025ai/alice-ai-server/internal/http"
	"github.com/alice2025ai/alice-ai-server/internal/ingest"
	"github.com/alice2025ai/alice-ai-server/internal/rate"
	"github.com/alice2025ai/alice-ai-server/internal/store/sqlite"
	"github.com/alice2025ai/alice-ai-server/internal/telegram"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	st, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	var adapters []chain.Adapter
	if cfg.MonadRPC != "" {
		adapters = append(adapters, chain.NewMonad(cfg.MonadRPC, cfg.MonadContract, cfg.MonadStartBlock, cfg.ChainTimeout))
	}
	if cfg.SuiRPC != "" {
		adapters = append(adapters, chain.NewSui(cfg.SuiRPC, cfg.SuiEventType, cfg.SuiSharesObject, cfg.ChainTimeout))
	}
	registry := chain.NewRegistry(adapters...)

	notifier := telegram.New(cfg.TelegramAPIBase, cfg.TelegramTimeout)
	policy := auth.SharePolicy{MinShares: big.NewInt(cfg.MinShares)}
	authSvc := auth.NewService(st, registry, notifier, policy, cfg.ChallengeTTL, cfg.MaxSyncLag, logger)
	limiter := rate.NewLimiter(cfg.RateLimit, cfg.RateLimitWindow)
	server := serverhttp.NewServer(st, authSvc, registry, limiter, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, a := range adapters {
		worker := ingest.NewWorker(st, a, notifier, cfg.SyncInterval, logger)
		go worker.Run(ctx)
	}
	go challengeJanitor(ctx, authSvc, logger)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "chains", registry.Names())
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func challengeJanitor(ctx context.Context, svc *auth.Service, logger *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := svc.CleanupExpiredChallenges(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("challenge cleanup failed", "error", err)
			}
		}
	}
}
