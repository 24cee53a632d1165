package cli

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"github.com/lauramurakaru/mdmp/internal/api"
	"github.com/lauramurakaru/mdmp/internal/auth"
	"github.com/lauramurakaru/mdmp/internal/chread"
	"github.com/lauramurakaru/mdmp/internal/config"
	"github.com/lauramurakaru/mdmp/internal/dataset"
	"github.com/lauramurakaru/mdmp/internal/server"
	"github.com/lauramurakaru/mdmp/internal/storage"
	"github.com/lauramurakaru/mdmp/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and gRPC evaluation servers",
	Long: "Serves /v1/evaluate and the admin API over HTTP, and the EvaluationService\n" +
		"over gRPC when grpc_port is set. Threshold edits in the config file are\n" +
		"applied without a restart.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	policy, _ := cfg.Policy() // validated by loadConfig

	// Logger
	logger := mustBuildLogger(cfg.LogLevel, "stdout")
	defer logger.Sync() //nolint:errcheck // best-effort flush

	logger.Info("starting mdmp server",
		zap.String("http_port", cfg.HTTPPort),
		zap.String("grpc_port", cfg.GRPCPort),
		zap.String("default_policy", policy.String()),
		zap.Float64("engage_threshold", cfg.Thresholds.Engage),
		zap.Float64("ask_authorization_threshold", cfg.Thresholds.AskAuthorization),
		zap.Float64("do_not_know_threshold", cfg.Thresholds.DoNotKnow),
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Arbiter, with the classifier when an endpoint is configured
	arbiter, closeClassifier, err := buildArbiter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeClassifier()

	// Postgres pool (projects, policies, key auth)
	var pgStore *store.Store
	if cfg.Storage.PostgresDSN != "" {
		db, err := sql.Open("pgx", cfg.Storage.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		pgStore = store.NewStore(db)
		if err := pgStore.Migrate(ctx); err != nil {
			return err
		}
		logger.Info("postgres connected")
	} else {
		logger.Info("no POSTGRES_DSN set, admin API disabled and static keys in use")
	}

	// Auth: Postgres-backed keys, or the static key list
	var (
		authenticator auth.Authenticator
		authCache     *auth.ProjectCache
	)
	if pgStore != nil {
		pgAuth := auth.NewPostgresAuthenticator(auth.PostgresAuthConfig{
			Store:     pgStore,
			CacheTTL:  cfg.Auth.CacheTTL(),
			CacheSize: cfg.Auth.CacheSize,
			Logger:    logger,
		})
		authenticator = pgAuth
		authCache = pgAuth.Cache()
	} else {
		if len(cfg.Auth.StaticKeys) == 0 {
			logger.Warn("no static keys configured, any well-formed msk_ key is accepted")
		}
		authenticator = auth.NewStaticAuthenticator(cfg.Auth.StaticKeys, policy, cfg.Auth.RecordDecisions)
	}

	// Decision records: ClickHouse and/or SQLite, LogWriter fallback
	writer, reader, closeStorage := buildStorage(cfg.Storage, logger)
	defer closeStorage()

	// Scenario dataset for /v1/scenarios/random
	var ds *dataset.Dataset
	if cfg.DatasetPath != "" {
		ds, err = dataset.LoadFile(cfg.DatasetPath)
		if err != nil {
			logger.Warn("dataset not loaded", zap.String("path", cfg.DatasetPath), zap.Error(err))
			ds = nil
		} else {
			logger.Info("dataset loaded", zap.String("path", cfg.DatasetPath), zap.Int("rows", ds.Len()))
		}
	}

	// Hot reload of the default thresholds
	reloader, err := config.NewReloader(configPath, func(next *config.Config) {
		if err := arbiter.SetThresholds(next.Thresholds); err != nil {
			logger.Warn("threshold reload rejected", zap.Error(err))
			return
		}
		logger.Info("thresholds reloaded",
			zap.Float64("engage", next.Thresholds.Engage),
			zap.Float64("ask_authorization", next.Thresholds.AskAuthorization),
			zap.Float64("do_not_know", next.Thresholds.DoNotKnow),
		)
		if pgStore != nil {
			go warnConflictingPolicies(ctx, pgStore, next.Thresholds, logger)
		}
	}, logger)
	if err != nil {
		logger.Warn("config reload disabled", zap.Error(err))
	} else {
		go func() {
			if err := reloader.Run(ctx); err != nil {
				logger.Warn("config watcher stopped", zap.Error(err))
			}
		}()
	}

	// HTTP API server
	deps := &api.Dependencies{
		Auth:         authenticator,
		AuthCache:    authCache,
		Arbiter:      arbiter,
		Writer:       writer,
		Dataset:      ds,
		BatchWorkers: cfg.BatchWorkers,
		CORSOrigins:  cfg.CORSOrigins,
		Logger:       logger,
	}
	if pgStore != nil {
		deps.Store = pgStore
	}
	if reader != nil {
		deps.Reader = reader
	}
	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// gRPC server (optional)
	var grpcServer *grpc.Server
	if cfg.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcServer = grpc.NewServer()
		server.NewEvaluationServer(arbiter, authenticator, writer, logger).Register(grpcServer)
		go func() {
			logger.Info("grpc server listening", zap.String("addr", lis.Addr().String()))
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("grpc server failed", zap.Error(err))
			}
		}()
	}

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	stop()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}

	logger.Info("mdmp server stopped")
	return nil
}

// buildStorage opens the configured decision stores. The returned writer is
// never nil; the reader is nil when no store can be queried. ClickHouse is
// preferred for reads when both are configured.
func buildStorage(cfg config.StorageConfig, logger *zap.Logger) (storage.RecordWriter, api.DecisionReader, func()) {
	var (
		writers []storage.RecordWriter
		reader  api.DecisionReader
		closers []func()
	)

	if cfg.ClickHouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(cfg.ClickHouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, not recording to clickhouse", zap.Error(err))
		} else {
			writers = append(writers, chWriter)
			logger.Info("clickhouse writer connected")
		}

		chReader, err := chread.NewReader(cfg.ClickHouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse reader connection failed", zap.Error(err))
		} else {
			reader = chReader
			closers = append(closers, func() { _ = chReader.Close() })
			logger.Info("clickhouse reader connected")
		}
	}

	if cfg.SQLitePath != "" {
		sqlite, err := storage.NewSQLiteStore(cfg.SQLitePath, logger)
		if err != nil {
			logger.Warn("sqlite store unavailable", zap.String("path", cfg.SQLitePath), zap.Error(err))
		} else {
			writers = append(writers, sqlite)
			if reader == nil {
				reader = sqlite
			}
			logger.Info("sqlite store opened", zap.String("path", cfg.SQLitePath))
		}
	}

	var writer storage.RecordWriter
	switch len(writers) {
	case 0:
		writer = storage.NewLogWriter(logger)
		logger.Info("no decision store configured, using log writer")
	case 1:
		writer = writers[0]
	default:
		writer = storage.MultiWriter(writers)
	}

	return writer, reader, func() {
		// Drain writers before closing readers that may share a connection.
		writer.Close()
		for _, c := range closers {
			c()
		}
	}
}
