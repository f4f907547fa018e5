// Package main provides the main entry point for the mail engine service
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clubroster/mailengine/app/handlers"
	"github.com/clubroster/mailengine/app/router"
	"github.com/clubroster/mailengine/app/services"
	"github.com/clubroster/mailengine/app/worker"
	businessflow "github.com/clubroster/mailengine/business_flow"
	"github.com/clubroster/mailengine/config"
	"github.com/clubroster/mailengine/repository"
	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Application represents the main application structure
type Application struct {
	router    router.Router
	config    *config.ProductionConfig
	server    *fiber.App
	stopFuncs []func()
}

func main() {
	log.Println("Starting mail engine...")

	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	app.router.SetupRoutes()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Printf("Server starting on %s", address)

		if err := app.server.Listen(address); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-sigChan
	log.Println("Shutting down gracefully...")

	// Stop background workers
	for _, fn := range app.stopFuncs {
		fn()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	// TranslateError surfaces unique violations as gorm.ErrDuplicatedKey,
	// which the delivery repository maps to ErrDuplicateRecipient.
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	return db, nil
}

// initializeCache initializes the Cache client and verifies connectivity
func initializeCache(cfg config.CacheConfig) (*redis.Client, error) {
	if !cfg.Enabled || cfg.Provider != "redis" {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Redis connection established to %s (db=%d)", cfg.RedisURL, cfg.RedisDB)
	return rc, nil
}

// startCacheHealthMonitor starts a background goroutine that periodically pings Redis
// to detect connectivity issues. The returned cancel function stops the monitor.
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(context.Background(), 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					log.Printf("Redis healthcheck failed: %v", err)
				}
				c()
			}
		}
	}()
	return cancel
}

// initializeEmailProvider selects the outbound transport based on configuration
func initializeEmailProvider(cfg *config.ProductionConfig) services.EmailProvider {
	if cfg.Mailer.ProviderURL == "mock" {
		log.Println("Using mock email provider")
		return services.NewMockEmailProvider()
	}
	return services.NewEmailProvider(&cfg.Mailer)
}

// initializeApplication initializes the main application components
func initializeApplication(cfg *config.ProductionConfig) (*Application, error) {
	var stopFuncs []func()

	db, err := initializeDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	if err := repository.Migrate(db); err != nil {
		return nil, err
	}

	rc, err := initializeCache(cfg.Cache)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		cancel := startCacheHealthMonitor(context.Background(), rc, cfg.Cache.CleanupInterval)
		stopFuncs = append(stopFuncs, cancel)
	}

	// Initialize repositories
	deliveryRepo := repository.NewEmailDeliveryRepository(db)
	campaignRepo := repository.NewEmailCampaignRepository(db)
	jobRepo := repository.NewScheduledJobRepository(db)
	quotaRepo := repository.NewQuotaRepository(db)

	// Initialize services
	emailProvider := initializeEmailProvider(cfg)
	heartbeat := worker.NewHeartbeat(rc, cfg.Cache.RedisPrefix, cfg.Cache.HeartbeatTTL)

	// Initialize flows
	mailerFlow := businessflow.NewMailerFlow(deliveryRepo, campaignRepo, db)
	jobFlow := businessflow.NewJobFlow(jobRepo)

	// Initialize handlers
	mailerHandler := handlers.NewMailerHandler(mailerFlow)
	jobHandler := handlers.NewJobHandler(jobFlow)
	healthHandler := handlers.NewHealthHandler(db, rc, heartbeat)

	// Initialize router
	appRouter := router.NewFiberRouter(cfg, mailerHandler, jobHandler, healthHandler)

	if cfg.Worker.Enabled {
		deliveryWorker := worker.NewDeliveryWorker(
			deliveryRepo, campaignRepo, quotaRepo, emailProvider, heartbeat,
			cfg.Worker, cfg.Quota, cfg.Logging,
		)
		stopFuncs = append(stopFuncs, deliveryWorker.Start(context.Background()))
	}

	if cfg.Scheduler.Enabled {
		jobRunner := worker.NewJobRunner(jobRepo, heartbeat, cfg.Scheduler, cfg.Logging, cfg.Worker.LogDir)
		jobRunner.Register(worker.JobTypeEventReminder, worker.NewEventReminderHandler(mailerFlow))
		stopFuncs = append(stopFuncs, jobRunner.Start(context.Background()))
	}

	application := &Application{
		router:    appRouter,
		config:    cfg,
		server:    appRouter.GetApp(),
		stopFuncs: stopFuncs,
	}

	return application, nil
}
