package main

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/lumenpath/funnel-analytics-service/docs"
	"github.com/lumenpath/funnel-analytics-service/internal/config"
	"github.com/lumenpath/funnel-analytics-service/internal/handler"
	"github.com/lumenpath/funnel-analytics-service/internal/logger"
	"github.com/lumenpath/funnel-analytics-service/internal/queue/sqs"
	"github.com/lumenpath/funnel-analytics-service/internal/repository/sqlite"
	"github.com/lumenpath/funnel-analytics-service/internal/service"
)

// @title Funnel Analytics Service API
// @version 1.0
// @description API for funnel-stage analytics and experiment assignment
// @host localhost:8080
// @BasePath /
// @schemes http https
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log, err := logger.New(cfg.Service.Environment)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer func(log *zap.Logger) {
		err := log.Sync()
		if err != nil {
			log.Error("Failed to sync logger", zap.Error(err))
		}
	}(log)

	log.Info("Starting API service",
		zap.String("environment", cfg.Service.Environment),
		zap.String("port", cfg.Service.APIPort))

	// Configure Swagger host dynamically
	docs.SwaggerInfo.Host = cfg.Service.Host

	ctx := context.Background()

	// Initialize SQS client
	sqsClient, err := sqs.NewClient(ctx, cfg.SQS, log)
	if err != nil {
		log.Fatal("Failed to create SQS client", zap.Error(err))
	}

	// Initialize SQLite client
	sqliteClient, err := sqlite.NewClient(ctx, &cfg.SQLite, log)
	if err != nil {
		log.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer func(sqliteClient *sqlite.Client) {
		if err := sqliteClient.Close(); err != nil {
			log.Error("Failed to close SQLite client", zap.Error(err))
		}
	}(sqliteClient)

	// Initialize schema (create tables if not exist)
	if err := sqliteClient.InitSchema(ctx); err != nil {
		log.Fatal("Failed to initialize schema", zap.Error(err))
	}

	// Initialize repositories
	funnelRepo := sqlite.NewFunnelRepository(sqliteClient, log)
	experimentRepo := sqlite.NewExperimentRepository(sqliteClient, log)

	// Initialize services
	funnelService := service.NewFunnelService(funnelRepo, cfg.Analytics, log)
	experimentService := service.NewExperimentService(sqsClient, experimentRepo, cfg.Analytics, log)

	// Initialize handler
	h := handler.NewHandler(funnelService, experimentService, log)

	addr := fmt.Sprintf(":%s", cfg.Service.APIPort)
	log.Info("API server starting", zap.String("address", addr))

	if err := http.ListenAndServe(addr, h); err != nil {
		log.Fatal("Failed to start API server", zap.Error(err))
	}
}
