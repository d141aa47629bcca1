package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"gatekeeper.org/internal/audit"
	"gatekeeper.org/internal/auth"
	"gatekeeper.org/internal/config"
	"gatekeeper.org/internal/obs"
	"gatekeeper.org/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("missing DSN: set GATEKEEPER_PG_DSN")
	}

	store, err := pg.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}

	keys, err := auth.NewKeyRing([]byte(cfg.SigningSecret))
	if err != nil {
		log.Fatalf("key ring: %v", err)
	}

	sink := audit.NewSink(store, audit.WithRetentionDays(cfg.AuditBufferDays))

	svc, err := auth.NewService(store, keys, sink,
		auth.WithIssuer(cfg.Issuer),
		auth.WithAccessTTL(cfg.AccessTokenTTL),
		auth.WithRefreshTTL(cfg.RefreshTokenTTL),
		auth.WithClockSkew(cfg.ClockSkew),
		auth.WithIdleTimeout(cfg.SessionIdleTimeout),
		auth.WithAbsoluteTimeout(cfg.SessionAbsoluteTimeout),
		auth.WithMaxSessionsPerUser(cfg.MaxSessionsPerUser),
		auth.WithLockoutPolicy(cfg.LockoutThreshold, cfg.LockoutDuration),
		auth.WithUserRateLimit(rate.Limit(float64(cfg.UserRatePerMinute)/60.0), cfg.UserRateBurst),
		auth.WithIPRateLimit(rate.Limit(float64(cfg.IPRatePerMinute)/60.0), cfg.IPRateBurst),
	)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.StartBackground(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", obs.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, pingCancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer pingCancel()
		if err := store.DB().PingContext(pingCtx); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	obs.LogEvent(map[string]any{
		"level":   "info",
		"msg":     "starting gatekeeper-api",
		"version": version,
		"addr":    srv.Addr,
		"env":     cfg.Environment,
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	obs.LogEvent(map[string]any{"level": "info", "msg": "shutting down"})
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = store.Close()
	obs.LogEvent(map[string]any{"level": "info", "msg": "stopped"})
}
