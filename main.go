package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wakecap/siteguard-video-analyzer/config"
	"github.com/wakecap/siteguard-video-analyzer/database"
	"github.com/wakecap/siteguard-video-analyzer/handlers"
	"github.com/wakecap/siteguard-video-analyzer/metrics"
	"github.com/wakecap/siteguard-video-analyzer/rabbitmq"
	"github.com/wakecap/siteguard-video-analyzer/service"
)

const (
	EndPointHealth  = "/health"
	EndPointMetrics = "/metrics"
)

func main() {
	// Load configuration
	cfg := config.Load()
	log.SetLevelFromString(cfg.LogLevel)

	log.Info("Starting the siteguard video analyzer...")

	// Initialize database
	db, err := database.NewDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	if err := db.CreateTables(); err != nil {
		log.Fatalf("Failed to create tables: %v", err)
	}
	if err := db.MigrateTables(); err != nil {
		log.Fatalf("Failed to migrate tables: %v", err)
	}

	// Initialize metrics
	metrics.Register()

	// Connect the analyzed-report publisher. The service runs without the
	// broker; events are simply not emitted.
	var publisher service.Publisher
	pub, err := rabbitmq.NewPublisher(cfg.GetRabbitMQURL(), cfg.RabbitMQExchange, cfg.RabbitMQAnalyzedReportRoutingKey)
	if err != nil {
		log.Warnf("RabbitMQ unavailable, analyzed-report events disabled: %v", err)
	} else {
		publisher = pub
		defer pub.Close()
	}

	// Initialize service
	svc, err := service.NewService(cfg, db, publisher)
	if err != nil {
		log.Fatalf("Failed to initialize service: %v", err)
	}

	// Initialize handlers
	h := handlers.NewHandlers(svc, db, cfg)

	// Setup router
	router := gin.Default()
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	router.GET(EndPointHealth, h.HealthCheck)
	router.GET(EndPointMetrics, gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.GET("/status", h.GetStatus)
		api.GET("/stats", h.GetStats)

		api.POST("/videos", h.UploadVideo)
		api.GET("/videos", h.ListVideos)
		api.GET("/videos/:id", h.GetVideo)
		api.DELETE("/videos/:id", h.DeleteVideo)

		api.POST("/analyze", h.Analyze)

		api.GET("/session", h.GetSession)
		api.POST("/session/save", h.SaveReport)
		api.POST("/session/load/:id", h.LoadReport)
		api.POST("/session/reset", h.ResetSession)

		api.GET("/reports", h.ListReports)
		api.GET("/reports/:id", h.GetReport)
		api.PATCH("/reports/:id", h.PatchReport)
		api.DELETE("/reports/:id", h.DeleteReport)
		api.GET("/reports/:id/violations/:position/thumbnail", h.GetViolationThumbnail)
		api.POST("/reports/:id/rebind", h.RebindEvidence)

		api.POST("/projects", h.CreateProject)
		api.GET("/projects", h.ListProjects)
		api.GET("/projects/:id", h.GetProject)
		api.DELETE("/projects/:id", h.DeleteProject)

		api.POST("/cameras", h.CreateCamera)
		api.GET("/cameras", h.ListCameras)
		api.GET("/cameras/nearby", h.NearbyCameras)
		api.GET("/cameras/:id", h.GetCamera)
		api.DELETE("/cameras/:id", h.DeleteCamera)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start the thumbnail backfill worker
	svc.StartBackfill()

	// Start HTTP server in a goroutine
	go func() {
		log.Infof("HTTP server listening on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	// Stop background capture before closing the listener so in-flight
	// thumbnail writes finish against a live store.
	svc.StopBackfill()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Info("Server exited")
}
