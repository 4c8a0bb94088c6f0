// Package main provides the entry point for the Kagutsuchi recruitment dashboard API
//
// @title						Kagutsuchi API
// @version					1.0
// @description				Form intake, deduplication, allocation, UTM links and analytics for recruitment teams.
// @BasePath					/
// @securityDefinitions.apikey	BearerAuth
// @in							header
// @name						Authorization
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	applogger "github.com/amirphl/Kagutsuchi/app/logger"
	"github.com/amirphl/Kagutsuchi/app/handlers"
	"github.com/amirphl/Kagutsuchi/app/middleware"
	"github.com/amirphl/Kagutsuchi/app/router"
	"github.com/amirphl/Kagutsuchi/app/services"
	businessflow "github.com/amirphl/Kagutsuchi/business_flow"
	"github.com/amirphl/Kagutsuchi/config"
	"github.com/amirphl/Kagutsuchi/migrations"
	"github.com/amirphl/Kagutsuchi/repository"
	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Application represents the main application structure
type Application struct {
	router    *router.FiberRouter
	config    *config.ProductionConfig
	server    *fiber.App
	logger    *zap.Logger
	stopFuncs []func()
}

func main() {
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := applogger.New(cfg.Logging)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting kagutsuchi",
		zap.String("environment", cfg.Deployment.Environment),
		zap.String("version", cfg.Deployment.Version),
		zap.String("commit", cfg.Deployment.CommitHash),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := initializeApplication(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	app.router.SetupRoutes()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		logger.Info("server starting", zap.String("address", address))
		serverErr <- app.router.Start(address)
	}()

	select {
	case sig := <-sigChan:
		logger.Info("shutting down gracefully", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			logger.Error("server stopped unexpectedly", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
	}

	// Stop background workers after the server so in-flight requests can
	// still enqueue work.
	for i := len(app.stopFuncs) - 1; i >= 0; i-- {
		app.stopFuncs[i]()
	}

	logger.Info("server stopped")
}

// initializeDatabase opens the configured driver with connection pooling
func initializeDatabase(cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)
		dialector = postgres.Open(dsn)
	}

	slow := cfg.SlowQueryTime
	if slow <= 0 {
		slow = 500 * time.Millisecond
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(zap.NewStdLog(logger.Named("gorm")), gormlogger.Config{
			SlowThreshold:             slow,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
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

	logger.Info("database connection established",
		zap.String("driver", cfg.Driver),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
	)
	return db, nil
}

// initializeCache connects to Redis when it is configured. A nil client
// means the in-memory fallbacks are used.
func initializeCache(cfg config.CacheConfig, logger *zap.Logger) (*redis.Client, error) {
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

	logger.Info("redis connection established", zap.String("addr", opt.Addr), zap.Int("db", cfg.RedisDB))
	return rc, nil
}

// startCacheHealthMonitor pings Redis periodically so connectivity loss
// shows up in the logs before requests start failing
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration, logger *zap.Logger) func() {
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
				ctx, c := context.WithTimeout(monitorCtx, 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					logger.Warn("redis healthcheck failed", zap.Error(err))
				}
				c()
			}
		}
	}()
	return cancel
}

// initializeApplication wires storage, services, flows and handlers
func initializeApplication(ctx context.Context, cfg *config.ProductionConfig, logger *zap.Logger) (*Application, error) {
	var stopFuncs []func()

	shutdownTracing, err := services.InitTracing(ctx, cfg.Telemetry, cfg.Deployment.Version, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	stopFuncs = append(stopFuncs, func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	})

	db, err := initializeDatabase(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if err := migrations.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	stopFuncs = append(stopFuncs, func() { _ = sqlDB.Close() })

	rc, err := initializeCache(cfg.Cache, logger)
	if err != nil {
		return nil, err
	}

	probes := map[string]router.HealthProbe{"database": sqlDB.PingContext}

	// Redis-backed stores when Redis is present, process-local otherwise
	var (
		resultCache services.ResultCache
		revocations services.RevocationStore = services.NewMemoryRevocationStore()
		challenges  services.ChallengeStore  = services.NewMemoryChallengeStore()
	)
	if rc != nil {
		stopFuncs = append(stopFuncs, startCacheHealthMonitor(ctx, rc, 30*time.Second, logger), func() { _ = rc.Close() })
		probes["redis"] = func(ctx context.Context) error { return rc.Ping(ctx).Err() }
		resultCache = services.NewRedisResultCache(rc, cfg.Cache.RedisPrefix+"analytics:", cfg.Cache.DefaultTTL, logger)
		revocations = services.NewRedisRevocationStore(rc, cfg.Cache.RedisPrefix+"revoked:")
		challenges = services.NewRedisChallengeStore(rc, cfg.Cache.RedisPrefix+"captcha:")
	}

	taskRunner := services.NewTaskRunner(cfg.Tasks, logger)
	stopFuncs = append(stopFuncs, taskRunner.Start(ctx))

	mailer := services.NewLogMailer(cfg.Email, logger)

	var shortener services.LinkShortener
	if cfg.ShortIO.Enabled() {
		shortener = services.NewShortIOClient(cfg.ShortIO)
	}

	var captcha services.CaptchaService
	if cfg.Captcha.Enabled {
		captcha, err = services.NewCaptchaServiceRotate(cfg.Captcha.TTL, cfg.Captcha.Padding, cfg.Captcha.ImageSize, challenges)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize captcha: %w", err)
		}
	}

	tokenService, err := services.NewTokenService(
		cfg.JWT.AccessTokenTTL,
		cfg.JWT.RefreshTokenTTL,
		cfg.JWT.Issuer,
		cfg.JWT.Audience,
		cfg.JWT.UseRSAKeys,
		cfg.JWT.PrivateKey,
		cfg.JWT.PublicKey,
		cfg.JWT.SecretKey,
		revocations,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}
	logger.Info("token service initialized", zap.String("issuer", cfg.JWT.Issuer), zap.String("audience", cfg.JWT.Audience))

	// Repositories
	analyticsRepo := repository.NewAnalyticsRepository(db)
	formRepo := repository.NewFormRepository(db)
	fieldRepo := repository.NewFormFieldRepository(db)
	lookupRepo := repository.NewLookupRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	submissionRepo := repository.NewFormSubmissionRepository(db)
	responseRepo := repository.NewFormResponseRepository(db)
	requestRepo := repository.NewAllocationRequestRepository(db)
	userRepo := repository.NewUserRepository(db)
	entityRepo := repository.NewEntityRepository(db)
	uniRepo := repository.NewUniMappingRepository(db)
	campaignRepo := repository.NewUtmCampaignRepository(db)
	sourceRepo := repository.NewUtmSourceRepository(db)
	mediumRepo := repository.NewUtmMediumRepository(db)
	hubRepo := repository.NewHubSettingRepository(db)
	linkRepo := repository.NewUtmLinkRepository(db)
	clickRepo := repository.NewClickLogRepository(db)

	// Flows
	submissionFlow := businessflow.NewSubmissionFlow(
		formRepo,
		fieldRepo,
		submissionRepo,
		responseRepo,
		uniRepo,
		entityRepo,
		businessflow.NewFieldResolvers(lookupRepo),
		businessflow.NewDeduplicator(submissionRepo, db, logger),
		mailer,
		taskRunner,
		db,
		logger,
	)
	allocationFlow := businessflow.NewAllocationFlow(submissionRepo, entityRepo, userRepo, requestRepo, notificationRepo, db, logger)
	formFlow := businessflow.NewFormFlow(formRepo, fieldRepo, submissionRepo, db, logger)
	utmFlow := businessflow.NewUtmLinkFlow(
		formRepo,
		entityRepo,
		campaignRepo,
		sourceRepo,
		mediumRepo,
		linkRepo,
		hubRepo,
		shortener,
		taskRunner,
		cfg.UTM,
		db,
		logger,
	)
	trackingFlow := businessflow.NewClickTrackingFlow(linkRepo, clickRepo, logger)
	analyticsFlow := businessflow.NewAnalyticsFlow(analyticsRepo, uniRepo, entityRepo, resultCache, logger)
	notificationFlow := businessflow.NewNotificationFlow(notificationRepo, logger)
	authFlow := businessflow.NewAuthFlow(userRepo, entityRepo, tokenService, captcha, cfg.Security.BcryptCost, logger)
	directoryFlow := businessflow.NewDirectoryFlow(entityRepo, uniRepo, userRepo, cfg.Security.BcryptCost, logger)

	seedCtx, seedCancel := context.WithTimeout(ctx, 10*time.Second)
	defer seedCancel()
	if err := authFlow.EnsureAdmin(seedCtx, cfg.Admin); err != nil {
		return nil, fmt.Errorf("failed to ensure admin user: %w", err)
	}

	// Handlers
	authHandler := handlers.NewAuthHandler(authFlow, logger)
	formHandler := handlers.NewFormHandler(formFlow, logger)
	submissionHandler := handlers.NewSubmissionHandler(submissionFlow, allocationFlow, logger)
	allocationHandler := handlers.NewAllocationHandler(allocationFlow, logger)
	notificationHandler := handlers.NewNotificationHandler(notificationFlow, logger)
	utmHandler := handlers.NewUtmHandler(utmFlow, trackingFlow, logger)
	analyticsHandler := handlers.NewAnalyticsHandler(analyticsFlow, logger)
	directoryHandler := handlers.NewDirectoryHandler(directoryFlow, logger)

	for _, h := range []interface{ SetRequestTimeout(time.Duration) }{
		authHandler, formHandler, submissionHandler, allocationHandler,
		notificationHandler, utmHandler, analyticsHandler, directoryHandler,
	} {
		h.SetRequestTimeout(cfg.Server.RequestTimeout)
	}

	authMiddleware := middleware.NewAuthMiddleware(tokenService)

	appRouter := router.NewFiberRouter(cfg, router.Handlers{
		Auth:         authHandler,
		Form:         formHandler,
		Submission:   submissionHandler,
		Allocation:   allocationHandler,
		Notification: notificationHandler,
		Utm:          utmHandler,
		Analytics:    analyticsHandler,
		Directory:    directoryHandler,
	}, authMiddleware, probes, logger)

	fiberRouter, ok := appRouter.(*router.FiberRouter)
	if !ok {
		return nil, errors.New("unexpected router implementation")
	}
	return &Application{
		router:    fiberRouter,
		config:    cfg,
		server:    fiberRouter.GetApp(),
		logger:    logger,
		stopFuncs: stopFuncs,
	}, nil
}
