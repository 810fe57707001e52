package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"github.com/lastwatch/uptime-core/pkg/config"
	"github.com/lastwatch/uptime-core/pkg/dispatch"
	"github.com/lastwatch/uptime-core/pkg/maintenance"
	"github.com/lastwatch/uptime-core/pkg/rollup"
	"github.com/lastwatch/uptime-core/pkg/scheduler"
	"github.com/lastwatch/uptime-core/pkg/status"
	"github.com/lastwatch/uptime-core/pkg/store"
)

func main() {
	log.Println("starting uptime-core scheduler")

	environment := os.Getenv("UPTIME_CORE_ENV")
	if environment == "" {
		environment = "development"
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	log.Printf("environment: %s", environment)

	db, err := store.NewDB(cfg)
	if err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}
	defer db.Close()

	if err := db.SeedSettings(cfg); err != nil {
		log.Fatalf("failed to seed settings: %v", err)
	}

	maint := maintenance.New(db.MaintenanceRepository())
	dispatcher := dispatch.New(db.ChannelRepository(), db.DeliveryRepository(), cfg.Webhook)
	composer := status.New(db, maint)

	sched := scheduler.New(db, maint, dispatcher, composer, cfg.Scheduler.ProbeConcurrency, int64(cfg.Scheduler.TickLeaseSeconds))
	rollupJob := rollup.New(db, cfg.Settings.RetentionCheckResultsDays)

	c := cron.New()
	if _, err := c.AddFunc(cfg.Scheduler.TickCronExpr, func() {
		now := time.Now()
		summary, err := sched.Tick(context.Background(), now)
		if err != nil {
			log.Printf("tick failed: %v", err)
			return
		}
		if summary.Skipped {
			log.Println("tick skipped: lease held by another instance")
			return
		}
		log.Printf("tick complete: probed=%d failed=%d", summary.Probed, summary.Failed)
	}); err != nil {
		log.Fatalf("failed to schedule tick cron: %v", err)
	}
	if _, err := c.AddFunc(cfg.Scheduler.RollupCronExpr, func() {
		now := time.Now()
		summary, err := rollupJob.Run(context.Background(), now)
		if err != nil {
			log.Printf("rollup failed: %v", err)
			return
		}
		if summary.Skipped {
			log.Println("rollup skipped: lease held by another instance")
			return
		}
		log.Printf("rollup complete: monitors=%d checks_pruned=%d outages_pruned=%d", summary.MonitorsRolled, summary.ChecksPruned, summary.OutagesPruned)
	}); err != nil {
		log.Fatalf("failed to schedule rollup cron: %v", err)
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	r.GET("/healthz", func(ctx *gin.Context) {
		if err := db.HealthCheck(); err != nil {
			ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now().Unix()})
	})

	r.GET("/debug/status", func(ctx *gin.Context) {
		snap, err := composer.Cached()
		if err != nil {
			ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "status snapshot not yet available"})
			return
		}
		ctx.JSON(http.StatusOK, snap)
	})

	port := cfg.Scheduler.Port
	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", port),
		Handler:        r,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Printf("scheduler HTTP server starting on port %d", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down scheduler")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("server forced to shutdown: %v", err)
	}

	log.Println("scheduler shutdown complete")
}
