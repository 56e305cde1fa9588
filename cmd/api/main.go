package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"candidatehub/api/internal/app"
	"candidatehub/api/internal/auth"
	"candidatehub/api/internal/config"
	"candidatehub/api/internal/logging"
	"candidatehub/api/internal/realtime"
	"candidatehub/api/internal/search"
	"candidatehub/api/internal/store"
)

// backend is satisfied by both the PostgreSQL and the in-memory store.
type backend interface {
	app.DataStore
	search.NoteSource
	InsertNotification(context.Context, store.Notification) (store.Notification, error)
}

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.IsProduction(), cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	var (
		data     backend
		fallback search.Searcher
	)
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()
		applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
		if err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		logger.Info("migrations applied", zap.Strings("versions", applied))
		data = store.NewPostgresStore(db)
		fallback = search.NewPgFTS(db)
	} else {
		if cfg.IsProduction() {
			return errors.New("DATABASE_URL is required in production")
		}
		logger.Warn("DATABASE_URL not set, using the in-memory store")
		mem := store.NewMemoryStore()
		if err := seedDevData(ctx, mem); err != nil {
			return fmt.Errorf("seed dev data: %w", err)
		}
		logDevTokens(cfg, logger)
		data = mem
		fallback = search.NewScanSearcher(mem)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, fallback, logger)
	go searchService.Reindex(ctx, data)

	service := app.New(data, logger, app.WithSearch(searchService))
	gate := auth.NewGate([]byte(cfg.JWTSecret), data, cfg.AuthTimeout)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := realtime.Options{
		SendBuffer:            cfg.SendBuffer,
		TypingTimeout:         cfg.TypingTimeout,
		MaxConnectionsPerUser: cfg.MaxConnectionsPerUser,
		Metrics:               realtime.NewMetrics(registry),
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		relay, err := realtime.NewRedisRelay(cfg.RedisURL, cfg.RedisChannel, logger)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer relay.Close()
		logger.Info("fanning realtime events out over redis", zap.String("channel", cfg.RedisChannel))
		opts.Relay = relay
	}

	manager := realtime.NewManager(gate, service, data, logger, opts)
	runCtx, stopRealtime := context.WithCancel(ctx)
	defer stopRealtime()
	if err := manager.Start(runCtx); err != nil {
		return fmt.Errorf("start realtime: %w", err)
	}

	wsServer := realtime.NewServer(manager, realtime.ServerConfig{
		AllowedOrigin:   cfg.CORSOrigin,
		MaxMessageBytes: cfg.MaxMessageBytes,
	}, logger)
	httpServer := app.NewHTTPServer(service, gate, manager.Dispatcher(), app.HTTPConfig{
		CORSOrigin:    cfg.CORSOrigin,
		InternalToken: cfg.InternalToken,
		WebSocket:     wsServer,
		Metrics:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}, logger)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("CandidateHub API listening", zap.String("addr", cfg.Addr), zap.String("env", cfg.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Hijacked WebSocket connections are not tracked by Shutdown.
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	manager.Shutdown()
	return nil
}

// seedDevData mirrors db/migrations/0002_seed_dev.up.sql for the memory store.
func seedDevData(ctx context.Context, mem *store.MemoryStore) error {
	users := []store.User{
		{ID: "usr_admin", DisplayName: "Avery", Email: "avery@candidatehub.dev", Role: "admin", IsActive: true},
		{ID: "usr_recruiter", DisplayName: "Blake", Email: "blake@candidatehub.dev", Role: "recruiter", IsActive: true},
		{ID: "usr_manager", DisplayName: "Casey", Email: "casey@candidatehub.dev", Role: "hiring_manager", IsActive: true},
	}
	for _, u := range users {
		if err := mem.UpsertUser(ctx, u); err != nil {
			return err
		}
	}
	return mem.UpsertCandidate(ctx, store.Candidate{
		ID:         "cand_demo",
		Name:       "Jordan Lee",
		Email:      "jordan@example.com",
		Position:   "Backend Engineer",
		Status:     "screening",
		CreatedBy:  "usr_recruiter",
		AssignedTo: []string{"usr_manager"},
	})
}

func logDevTokens(cfg config.Config, logger *zap.Logger) {
	for _, u := range []struct{ id, name, role string }{
		{"usr_admin", "Avery", "admin"},
		{"usr_recruiter", "Blake", "recruiter"},
		{"usr_manager", "Casey", "hiring_manager"},
	} {
		token, err := auth.IssueToken([]byte(cfg.JWTSecret), auth.NewClaims(u.id, u.name, u.role, 24*time.Hour))
		if err != nil {
			logger.Warn("issue dev token", zap.String("userID", u.id), zap.Error(err))
			continue
		}
		logger.Info("dev token", zap.String("user", u.name), zap.String("token", token))
	}
}
