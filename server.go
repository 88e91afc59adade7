package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"

	"github.com/inboundr/art-framer-sub005/config"
	"github.com/inboundr/art-framer-sub005/fulfillment"
	"github.com/inboundr/art-framer-sub005/middlewares"
	"github.com/inboundr/art-framer-sub005/models"
	"github.com/inboundr/art-framer-sub005/notify"
	"github.com/inboundr/art-framer-sub005/payments"
	"github.com/inboundr/art-framer-sub005/retry"
)

const defaultPort = "8080"

var tracer = otel.Tracer("art-framer-fulfillment")

func main() {
	logger := config.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if err := models.MigrateTable(db); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	config.ConnectRedisWithRetry(ctx)

	providerClient, err := fulfillment.NewProdigiClient()
	if err != nil {
		log.Fatalf("fulfillment provider not configured: %v", err)
	}

	registry := retry.NewRegistry()
	engine := retry.NewEngine(db, logger, registry)
	engine.Locker = config.GetRedisLock()

	notifier := &notify.Notifier{DB: db, Logger: logger}
	registry.Register(models.OperationTypeCreateRemoteOrder,
		&fulfillment.CreateRemoteOrderExecutor{DB: db, Logger: logger, Client: providerClient})
	registry.Register(models.OperationTypeRefreshRemoteStatus,
		&fulfillment.RefreshRemoteStatusExecutor{DB: db, Logger: logger, Client: providerClient})
	registry.Register(models.OperationTypeProcessPaymentEvent,
		&payments.PaymentEventExecutor{DB: db, Logger: logger})
	registry.Register(models.OperationTypeSendNotification,
		&notify.SendNotificationExecutor{Notifier: notifier})

	materializer := &payments.Materializer{DB: db, Logger: logger, Engine: engine}

	go engine.Run(ctx)

	r := gin.Default()
	r.Use(cors.New(corsConfig()))
	r.Use(middlewares.CorrelationMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST("/webhooks/payment", payments.WebhookHandler(materializer))

	admin := r.Group("/admin/fulfillment", middlewares.AdminAuthMiddleware())
	admin.GET("/health", healthHandler(engine))
	admin.POST("/sweep", sweepHandler(engine))
	admin.POST("/operations/reschedule-failed", rescheduleFailedHandler(engine))
	admin.POST("/operations/purge", purgeHandler(engine))
	admin.POST("/operations/:id/cancel", cancelHandler(engine))
	admin.GET("/operations/export", exportHandler(engine))

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		log.Printf("listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowOrigins = []string{origins}
	} else {
		cfg.AllowAllOrigins = true
	}
	cfg.AllowHeaders = append(cfg.AllowHeaders, "X-Admin-Key", "X-Admin-Actor", "X-Correlation-Id")
	return cfg
}

func healthHandler(engine *retry.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		windowHours := 24
		if v := c.Query("window_hours"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				windowHours = n
			}
		}
		report, err := engine.Report(c.Request.Context(), windowHours)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func sweepHandler(engine *retry.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "fulfillment.force_sweep")
		defer span.End()
		stats := engine.ProcessDue(ctx)
		c.JSON(http.StatusOK, stats)
	}
}

func rescheduleFailedHandler(engine *retry.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		count, err := engine.RescheduleFailed(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"rescheduled": count})
	}
}

type purgeRequest struct {
	RetentionDays int `json:"retention_days" binding:"required,gt=0"`
}

func purgeHandler(engine *retry.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req purgeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "retention_days (> 0) is required"})
			return
		}
		retention := time.Duration(req.RetentionDays) * 24 * time.Hour
		count, err := engine.PurgeOperations(c.Request.Context(), retention)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"purged": count})
	}
}

func cancelHandler(engine *retry.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		ok, err := models.CancelOperation(engine.DB.WithContext(c.Request.Context()), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !ok {
			c.JSON(http.StatusConflict, gin.H{"error": "operation not found or not cancellable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"cancelled": id})
	}
}

func exportHandler(engine *retry.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		windowHours := 24
		if v := c.Query("window_hours"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				windowHours = n
			}
		}
		f, err := engine.ExportOperations(c.Request.Context(), windowHours)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename=operations.xlsx")
		if err := f.Write(c.Writer); err != nil {
			config.LogError(engine.Logger, "server.go", "exportHandler", "writing xlsx", nil, err)
		}
	}
}
