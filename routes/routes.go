package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"stock_alerts_backend/controllers"
	"stock_alerts_backend/metrics"
)

// Deps is everything the router needs
type Deps struct {
	Admin    *controllers.AdminController
	Triggers *controllers.TriggerController
	Stocks   *controllers.StockController

	// PushHandler upgrades /ws/notifications connections
	PushHandler http.HandlerFunc
	// IngestMiddleware guards the trigger ingestion route (auth, rate limit)
	IngestMiddleware []gin.HandlerFunc
	// Ready reports whether the database is reachable
	Ready func(ctx context.Context) error
}

// SetupRoutes sets up all routes
func SetupRoutes(router *gin.Engine, d Deps) {
	setupHealthEndpoints(router, d.Ready)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	if d.PushHandler != nil {
		router.GET("/ws/notifications", gin.WrapF(d.PushHandler))
	}

	api := router.Group("/api/v1")
	{
		admin := api.Group("/admin")
		{
			collection := admin.Group("/collection")
			{
				collection.GET("/status", d.Admin.GetCollectionStatus)
				collection.POST("/start", d.Admin.StartCollection)
				collection.POST("/stop", d.Admin.StopCollection)
				collection.POST("/force", d.Admin.ForceCollect)
				collection.POST("/symbols/:symbol", d.Admin.CollectSymbol)
			}

			alerts := admin.Group("/alerts")
			{
				alerts.GET("/status", d.Admin.GetAlertStatus)
				alerts.POST("/start", d.Admin.StartAlerts)
				alerts.POST("/stop", d.Admin.StopAlerts)
				alerts.POST("/run", d.Admin.RunAllAlerts)
				alerts.POST("/check/price-changes", d.Admin.CheckPriceChanges)
				alerts.POST("/check/price-thresholds", d.Admin.CheckPriceThresholds)
				alerts.POST("/check/volume-surges", d.Admin.CheckVolumeSurges)
				alerts.POST("/check/rsi", d.Admin.CheckRSIAlerts)
			}
		}

		triggers := api.Group("/triggers")
		{
			create := append(append([]gin.HandlerFunc{}, d.IngestMiddleware...), d.Triggers.CreateTrigger)
			triggers.POST("", create...)
			triggers.GET("/:ticker", d.Triggers.GetTriggersByTicker)
		}

		stocks := api.Group("/stocks")
		{
			stocks.GET("/:symbol/prices", d.Stocks.GetStockPrice)
			stocks.GET("/:symbol/snapshots/:facet", d.Stocks.GetSnapshot)
		}
	}
}

// setupHealthEndpoints registers liveness and readiness probes
func setupHealthEndpoints(router *gin.Engine, ready func(ctx context.Context) error) {
	// Liveness probe - always returns OK if server is running
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	// Readiness probe - checks the database
	router.GET("/ready", func(c *gin.Context) {
		if ready == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := ready(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database ping failed",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "ready",
		})
	})
}
