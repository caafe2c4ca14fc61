package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"stock_alerts_backend/config"
	"stock_alerts_backend/controllers"
	"stock_alerts_backend/middleware"
	"stock_alerts_backend/routes"
	"stock_alerts_backend/scheduler"
	"stock_alerts_backend/services/alerts"
	"stock_alerts_backend/services/collection"
	"stock_alerts_backend/services/marketdata"
	"stock_alerts_backend/services/notify"
	"stock_alerts_backend/services/store"
	"stock_alerts_backend/services/triggers"
)

// app holds everything gracefulShutdown has to stop
type app struct {
	server     *http.Server
	collection *scheduler.CollectionScheduler
	alerts     *scheduler.AlertScheduler
	sweeper    *scheduler.RetrySweeper
	consumer   *triggers.KafkaConsumer
	hub        *notify.PushHub
	archive    *store.MongoArchive
	store      *store.Store

	cancel      context.CancelFunc
	consumerErr chan error
	stopCleanup chan struct{}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	log := config.NewLogger(cfg.LogLevel, cfg.LogFormat)

	log.Info("==============================================")
	log.Info("  Stock Alerts Backend - Starting...")
	log.Info("==============================================")

	// Set Gin mode based on environment
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := config.InitDB(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Database connection failed")
	}
	log.Info("Running database migrations...")
	if err := config.Migrate(db); err != nil {
		log.WithError(err).Fatal("Migration failed")
	}
	log.Info("Database migrations completed successfully")

	a, router := build(cfg, store.New(db), log)

	// Bind to 0.0.0.0 explicitly for container networking
	a.server = &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		log.WithField("port", cfg.Port).Info("Server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Server error")
		}
	}()

	gracefulShutdown(a, log)
}

// build wires services, schedulers and routes
func build(cfg *config.Config, st *store.Store, log *logrus.Logger) (*app, *gin.Engine) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &app{store: st, cancel: cancel, stopCleanup: make(chan struct{})}

	archive, err := store.NewMongoArchive(ctx, cfg.MongoURI, log)
	if err != nil {
		log.WithError(err).Warn("MongoDB archive unavailable, continuing without it")
	}
	a.archive = archive

	// Notification fan-out: email plus in-process push
	a.hub = notify.NewPushHub(log)
	dispatcher := notify.NewMultiDispatcher(notify.NewEmailSender(cfg.SMTP, log), a.hub)
	fanOut := notify.NewFanOut(st, notify.NewRenderer(), dispatcher, log)

	triggerSvc := triggers.NewService(st, fanOut, triggers.Options{}, log)

	var provider marketdata.Provider = marketdata.NewAlphaVantageClient(cfg.Provider, log)
	collector := collection.NewService(provider, st, archive, collection.Options{
		TrackedTickers: cfg.TrackedTickers,
	}, log)
	engine := alerts.NewEngine(st, triggerSvc, cfg.Alerts, log)

	calendar, err := scheduler.NewWeekdayCalendarIn(cfg.MarketTimezone)
	if err != nil {
		// Validate already checked the zone
		log.WithError(err).Fatal("Invalid market timezone")
	}
	a.collection = scheduler.NewCollectionScheduler(collector, scheduler.CollectionOptions{
		Interval: cfg.CollectionInterval,
		Calendar: calendar,
		Context:  ctx,
	}, log)
	a.alerts = scheduler.NewAlertScheduler(ctx, engine, cfg.AlertInterval, nil, log)
	a.sweeper = scheduler.NewRetrySweeper(ctx, triggerSvc, cfg.RetrySweepInterval, nil, log)

	if err := a.sweeper.Start(); err != nil {
		log.WithError(err).Error("Failed to start trigger retry sweeper")
	}
	if cfg.EnableDataCollection {
		if _, err := a.collection.Start(); err != nil {
			log.WithError(err).Error("Failed to start collection scheduler")
		}
	}
	if cfg.EnablePriceAlerts {
		if _, err := a.alerts.Start(); err != nil {
			log.WithError(err).Error("Failed to start alert scheduler")
		}
	}

	if cfg.Kafka.Broker != "" {
		a.consumer = triggers.NewKafkaConsumer(triggers.NewKafkaReader(cfg.Kafka), triggerSvc, log)
		a.consumerErr = make(chan error, 1)
		go func() { a.consumerErr <- a.consumer.Run(ctx) }()
		log.WithFields(logrus.Fields{"broker": cfg.Kafka.Broker, "topic": cfg.Kafka.Topic}).Info("Kafka trigger consumer started")
	}

	limiter := middleware.NewRateLimiter(cfg.IngestRateLimit, int(2*cfg.IngestRateLimit))
	limiter.StartCleanup(a.stopCleanup)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger(log))

	routes.SetupRoutes(router, routes.Deps{
		Admin:       controllers.NewAdminController(a.collection, collector, a.alerts, engine),
		Triggers:    controllers.NewTriggerController(triggerSvc),
		Stocks:      controllers.NewStockController(st),
		PushHandler: a.hub.HandleWebSocket,
		IngestMiddleware: []gin.HandlerFunc{
			middleware.RateLimitMiddleware(limiter),
			middleware.IngestAuthMiddleware(cfg.IngestJWTSecret, log),
		},
		Ready: st.Ping,
	})

	log.Info("Application fully initialized")
	return a, router
}

// corsMiddleware returns a CORS middleware handler
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger returns a request logging middleware
func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for probes to reduce noise
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" || path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		// Only log errors or slow requests
		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.WithFields(logrus.Fields{
				"method":   c.Request.Method,
				"path":     path,
				"status":   c.Writer.Status(),
				"duration": duration.String(),
			}).Info("Request")
		}
	}
}

// gracefulShutdown cancels and stops schedulers first, then intake, then the server and storage
func gracefulShutdown(a *app, log logrus.FieldLogger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.WithField("signal", sig.String()).Info("Shutting down gracefully...")

	// Cancel first so Stop does not wait out a slow in-flight run
	a.cancel()
	a.collection.Stop()
	a.alerts.Stop()
	a.sweeper.Stop()

	if a.consumer != nil {
		if err := <-a.consumerErr; err != nil {
			log.WithError(err).Warn("Kafka consumer exited with error")
		}
		if err := a.consumer.Close(); err != nil {
			log.WithError(err).Warn("Kafka reader close failed")
		}
	}
	a.hub.Shutdown()
	close(a.stopCleanup)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("Server forced to shutdown")
	}

	if err := a.archive.Close(ctx); err != nil {
		log.WithError(err).Warn("MongoDB disconnect failed")
	}
	if sqlDB, err := a.store.DB().DB(); err == nil {
		sqlDB.Close()
		log.Info("Database connection closed")
	}

	log.Info("Server shutdown completed")
}
