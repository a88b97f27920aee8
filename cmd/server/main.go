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

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"familyledger/internal/envelope"
	"familyledger/internal/keys"
	"familyledger/internal/ledger/codec"
	"familyledger/internal/ledger/handler"
	ledgermetrics "familyledger/internal/ledger/metrics"
	"familyledger/internal/ledger/service"
	ledgerstore "familyledger/internal/ledger/store"
	"familyledger/internal/platform/config"
	"familyledger/internal/platform/httpserver"
	"familyledger/internal/platform/logger"
	httpmetrics "familyledger/internal/platform/metrics"
	"familyledger/internal/platform/sqlite"
	"familyledger/pkg/platform/audit/publisher"
	auditsqlite "familyledger/pkg/platform/audit/store/sqlite"
	"familyledger/pkg/platform/httputil"
	"familyledger/pkg/platform/middleware/request"
	"familyledger/pkg/platform/middleware/requesttime"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "familyledger: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log)
	slog.SetDefault(log)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	db, err := sqlite.New(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	ledger, err := ledgerstore.NewSQLite(db.DB, ledgerstore.WithLogger(log))
	if err != nil {
		return err
	}
	auditStore, err := auditsqlite.New(db.DB)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	keyFile := keys.NewFileStore(cfg.Keys.Path, keys.WithPassphrase(cfg.KeyPassphrase()))
	keyManager := keys.NewManager(keyFile,
		keys.WithLogger(log),
		keys.WithMetrics(keys.NewMetrics(reg)),
		keys.WithGenerationGuard(keys.GuardNoCiphertext(ledger.CountEncrypted)),
	)

	alg, err := envelope.ParseAlgorithm(cfg.Keys.Algorithm)
	if err != nil {
		return err
	}
	cipher, err := envelope.New(alg)
	if err != nil {
		return err
	}

	auditPublisher := publisher.NewPublisher(auditStore,
		publisher.WithLogger(log),
		publisher.WithFallbackLogger(logger.NewFallback()),
		publisher.WithAsyncBuffer(cfg.Audit.AsyncBuffer),
		publisher.WithCircuitBreaker(publisher.NewCircuitBreaker(cfg.Audit.CircuitThreshold, cfg.Audit.CircuitCooldown)),
		publisher.WithMetrics(publisher.NewMetrics(reg)),
	)

	ledgerService, err := service.New(ledger, keyManager, codec.New(cipher),
		service.WithLogger(log),
		service.WithAuditPublisher(auditPublisher),
		service.WithMetrics(ledgermetrics.New(reg)),
		service.WithLocation(loc),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The server stays up without a key so health and metrics remain
	// reachable; ledger calls answer 503 until the key store is fixed.
	if _, err := keyManager.GetKey(ctx); err != nil {
		log.ErrorContext(ctx, "encryption key unavailable at startup", "key_path", keyFile.Path(), "error", err)
	}

	router := chi.NewRouter()
	router.Use(request.Recovery(log))
	router.Use(request.RequestID)
	router.Use(requesttime.Middleware)
	router.Use(request.Logger(log))
	router.Use(httpmetrics.New(reg).Middleware)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Health(r.Context()); err != nil {
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	handler.New(ledgerService, auditPublisher,
		handler.WithLogger(log),
		handler.WithLocation(loc),
	).Register(router)

	srv := httpserver.New(cfg.Server, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting familyledger", "addr", cfg.Server.Addr, "cipher", cipher.Algorithm(), "key_path", keyFile.Path())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		shutdownErr := srv.Shutdown(shutdownCtx)
		if err := auditPublisher.Close(shutdownCtx); err != nil {
			log.Warn("audit queue not fully drained", "error", err)
		}
		if shutdownErr != nil {
			return fmt.Errorf("graceful shutdown failed: %w", shutdownErr)
		}
		return nil
	})
	return g.Wait()
}
