package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"gohan/genotypes/contexts"
	gam "gohan/genotypes/middleware"
	"gohan/genotypes/models"
	serviceInfo "gohan/genotypes/models/constants/service-info"
	"gohan/genotypes/mvc/genotypes"
	serviceInfoMvc "gohan/genotypes/mvc/service-info"
	esRepo "gohan/genotypes/repositories/elasticsearch"
	"gohan/genotypes/services"
	"gohan/genotypes/services/progress"
	"gohan/genotypes/services/sanitation"
	"gohan/genotypes/utils"

	"github.com/kelseyhightower/envconfig"
	"github.com/labstack/echo"
	"github.com/labstack/echo/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Gather environment variables
	var cfg models.Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	cfg.ApplyDefaults()

	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	defer logger.Sync()

	logger.Info("using configuration",
		"debug", cfg.Debug,
		"dataPath", cfg.Api.DataPath,
		"tmpPath", cfg.Api.TmpPath,
		"reportsPath", cfg.Api.ReportsPath,
		"bulkIndexingCap", cfg.Api.BulkIndexingCap,
		"fileProcessingConcurrencyLevel", cfg.Api.FileProcessingConcurrencyLevel,
		"chunkRecordBudget", cfg.Import.ChunkRecordBudget,
		"maxConcurrentMatrices", cfg.Import.MaxConcurrentMatrices,
		"elasticsearchUrl", cfg.Elasticsearch.Url,
		"elasticsearchUsername", cfg.Elasticsearch.Username,
		"elasticsearchPassword", utils.Redact(cfg.Elasticsearch.Password),
		"redisAddr", cfg.Redis.Addr,
		"reportsBucket", cfg.Reports.S3Bucket,
		"authorizationEnabled", cfg.AuthX.IsAuthorizationEnabled,
		"port", cfg.Api.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Service Connections:
	// -- Elasticsearch
	es, err := utils.CreateEsConnection(&cfg)
	if err != nil {
		logger.Error("elasticsearch connection failed", "error", err)
		os.Exit(1)
	}
	store := esRepo.NewStore(es, cfg.Api.BulkIndexingCap/100, logger)
	initCtx, initCancel := context.WithTimeout(ctx, time.Minute)
	if err := store.EnsureIndices(initCtx); err != nil {
		initCancel()
		logger.Error("preparing indices failed", "error", err)
		os.Exit(1)
	}
	initCancel()

	// -- Redis (optional progress fan-out)
	var sink progress.Sink
	rdb, err := utils.CreateRedisConnection(&cfg)
	if err != nil {
		logger.Warn("redis unavailable, progress stays in-process", "error", err)
	} else if rdb != nil {
		sink = progress.NewRedisSink(ctx, rdb, cfg.Redis.Channel, logger)
	}

	// Service Singletons
	stack, err := services.NewImportStack(ctx, &cfg, store, logger)
	if err != nil {
		logger.Error("building import services failed", "error", err)
		os.Exit(1)
	}
	az := services.NewAuthzService(&cfg, logger)
	iz := services.NewIngestionService(stack.Orchestrator, stack.Metrics, sink, cfg.Api.FileProcessingConcurrencyLevel, logger)
	ss := sanitation.NewSanitationService(cfg.Api.TmpPath, 24*time.Hour, iz, logger)
	defer ss.Stop()

	// Instantiate Server
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{echo.GET, echo.PUT, echo.POST, echo.DELETE},
	}))

	// -- Override handlers with "custom Gohan" context
	//		to be able to provide variables and global singletons
	e.Use(func(h echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &contexts.GohanContext{
				Context:          c,
				Config:           &cfg,
				IngestionService: iz,
				Log:              logger,
			}
			return h(cc)
		}
	})

	// Begin MVC Routes
	// -- Root
	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, serviceInfo.SERVICE_WELCOME)
	})

	// -- Service Info
	e.GET("/service-info", serviceInfoMvc.GetServiceInfo)

	// -- Metrics
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(stack.Metrics.Registry, promhttp.HandlerOpts{})))

	// -- Genotypes
	e.GET("/genotypes/ingestion/run", genotypes.GenotypesIngest,
		// middleware
		az.MandateAuthorizationTokensMiddleware,
		gam.MandateImportParameters)
	e.GET("/genotypes/ingestion/requests", genotypes.GetAllGenotypeIngestionRequests)
	e.GET("/genotypes/ingestion/requests/:id", genotypes.GetGenotypeIngestionRequest)
	e.GET("/genotypes/ingestion/stats", genotypes.GenotypesIngestionStats)

	// Run
	if err := e.Start(":" + cfg.Api.Port); err != nil && err != http.ErrServerClosed {
		logger.Error("server stopped", "error", err)
	}
}
