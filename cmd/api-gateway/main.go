package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kanjurer/foodhood/internal/api"
	"github.com/kanjurer/foodhood/internal/config"
	"github.com/kanjurer/foodhood/internal/services"
	"github.com/kanjurer/foodhood/internal/session"
	"github.com/kanjurer/foodhood/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.NewConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Starting API Gateway", "port", cfg.HTTPPort, "store", cfg.StoreBackend)

	st, err := store.Open(store.Options{
		Backend:     cfg.StoreBackend,
		RedisAddr:   cfg.RedisAddr,
		BoltPath:    cfg.BoltPath,
		TTL:         cfg.SessionTTL,
		MaxRequests: cfg.LoginRateLimit,
		LimitWindow: time.Minute,
	})
	if err != nil {
		slog.Error("Failed to open session store", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	marketplace := services.NewMarketplaceClient(cfg.MarketplaceAPIURL, cfg.BackendTimeout)
	sessions := session.NewManager(st, marketplace, session.Options{
		CookieName:   cfg.SessionCookie,
		CookieSecure: cfg.CookieSecure,
		CookieMaxAge: cfg.SessionTTL,
		IdleTTL:      cfg.SessionIdleTTL,
		Logger:       logger,
	})
	go sessions.Run(ctx)

	// Only the redis store counts login attempts.
	limiter, _ := st.(store.RateLimiter)
	if limiter == nil {
		slog.Warn("Login rate limiting disabled", "store", cfg.StoreBackend)
	}

	handler := api.NewHandler(marketplace, limiter)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:           api.NewRouter(handler, sessions),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
	}()

	slog.Info("Server listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		closeStore(st)
		os.Exit(1)
	}
	slog.Info("Server stopped")
	closeStore(st)
}

func closeStore(st store.Store) {
	if err := st.Close(); err != nil {
		slog.Error("Failed to close session store", "error", err)
	}
}
