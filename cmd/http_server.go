package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/frahmantamala/charge-orchestrator/api"
	"github.com/frahmantamala/charge-orchestrator/internal"
	"github.com/frahmantamala/charge-orchestrator/internal/audit"
	auditpg "github.com/frahmantamala/charge-orchestrator/internal/audit/postgres"
	"github.com/frahmantamala/charge-orchestrator/internal/charge"
	"github.com/frahmantamala/charge-orchestrator/internal/collection"
	collectionpg "github.com/frahmantamala/charge-orchestrator/internal/collection/postgres"
	"github.com/frahmantamala/charge-orchestrator/internal/core/events"
	"github.com/frahmantamala/charge-orchestrator/internal/processor"
	"github.com/frahmantamala/charge-orchestrator/internal/transport/middleware"
	"github.com/frahmantamala/charge-orchestrator/internal/transport/rest"
	"github.com/frahmantamala/charge-orchestrator/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle collection and audit requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config     *internal.Config
	DB         *sqlx.DB
	Gorm       *gorm.DB
	Router     *chi.Mux
	EventBus   *events.EventBus
	Processors []*processor.Client
	Logger     *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	if err := setupRoutes(deps); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to register routes: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("Server shutdown error", "error", err)
		}
		if err := deps.DB.Close(); err != nil {
			deps.Logger.Error("Database close error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("Server stopped")
}

func setupRoutes(deps *Dependencies) error {
	lg := deps.Logger

	auth, err := middleware.NewServiceAuth(deps.Config.Security, lg)
	if err != nil {
		return fmt.Errorf("failed to configure service auth: %w", err)
	}

	doc, err := api.Load()
	if err != nil {
		return err
	}

	collectionService := newCollectionService(deps)
	auditService := audit.NewService(auditpg.NewReader(deps.DB), lg)

	return rest.RegisterAllRoutes(deps.Router, rest.Routes{
		Health:         rest.NewHealthHandler(deps.DB.DB, nil),
		Collection:     collection.NewHandler(collectionService, lg),
		Audit:          audit.NewHandler(auditService, lg),
		Auth:           auth,
		OpenAPI:        doc,
		AllowedOrigins: deps.Config.Server.AllowedOrigins,
	}, lg)
}

// newCollectionService wires the orchestration stack: processors, creators, the fallback
// coordinator and the guarded collection service.
func newCollectionService(deps *Dependencies) *collection.Service {
	lg := deps.Logger

	attempts := collectionpg.NewAttemptRepository(deps.Gorm)
	auditWriter := auditpg.NewWriter(deps.Gorm)

	debitCard := processor.NewClient(processor.ConfigFrom(deps.Config.Processors.DebitCard), lg)
	bankAccount := processor.NewClient(processor.ConfigFrom(deps.Config.Processors.BankAccount), lg)
	deps.Processors = []*processor.Client{debitCard, bankAccount}

	coordinator := charge.NewCoordinator(
		attempts,
		auditWriter,
		charge.NewDebitCardCreator(debitCard, auditWriter, lg),
		charge.NewBankAccountCreator(bankAccount, auditWriter, lg),
		deps.EventBus,
		lg,
	)

	return collection.NewService(
		collectionpg.NewObligationRepository(deps.Gorm),
		attempts,
		collectionpg.NewGuardRepository(deps.Gorm),
		coordinator,
		collection.ConfigFrom(deps.Config.Collection),
		lg,
	)
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := initGorm(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	lg := logger.L()
	bus := events.NewEventBus(lg)
	bus.SubscribeAll(events.ChargeEventTypes, events.LoggingHandler(lg))

	return &Dependencies{
		Config:   config,
		Logger:   lg,
		DB:       db,
		Gorm:     gormDB,
		Router:   chi.NewRouter(),
		EventBus: bus,
	}, nil
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initGorm opens gorm on the pool sqlx already holds, so both share one set of connections.
func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	return gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
}
