package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fronix-gateway/auth"
	"fronix-gateway/config"
	"fronix-gateway/core"
	"fronix-gateway/core/adapter"
	"fronix-gateway/store"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const streamErrorLogFile = "logs/stream-errors.log"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	// 创建日志器
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	rotator, err := core.NewLogRotator(cfg.LogFile, cfg.LogMaxMB)
	if err != nil {
		log.Warnf("File logging disabled: %v", err)
	} else {
		log.SetOutput(io.MultiWriter(os.Stdout, rotator))
		defer rotator.Close()
	}
	// 🔇 关闭 Gin Debug 模式输出
	gin.SetMode(gin.ReleaseMode)

	// 初始化数据库
	db, err := store.Open(cfg.DBType, cfg.DBDSN, log)
	if err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	log.Infof("Database initialized (%s)", cfg.DBType)
	chatStore := store.NewGormStore(db)

	authn, err := auth.NewJWTAuthenticator(cfg.JWTSecret, 0)
	if err != nil {
		log.Fatal("Failed to create authenticator:", err)
	}

	// 路由表
	table := config.DefaultRoutingTable()
	if cfg.RoutesFile != "" {
		if table, err = config.LoadRoutingTable(cfg.RoutesFile); err != nil {
			log.Fatal("Failed to load routing table:", err)
		}
	}
	if err := table.Validate(cfg.Providers); err != nil {
		log.Fatal("Invalid routing table:", err)
	}

	metrics := core.NewMetrics(nil)
	registry := core.NewPoolRegistry(cfg.Providers, log)
	affinity := core.NewAffinityTracker(cfg.AffinityCooldown)
	router := core.NewUpstreamRouter(table, registry, affinity, metrics, log)

	httpClient := core.NewHTTPClient(cfg.RequestTimeout)
	requester := core.NewResilientRequester(httpClient, metrics, log)
	openai := adapter.NewOpenAIAdapter()

	generic, err := registry.Get(config.ProviderGeneric)
	if err != nil {
		log.Fatal("Generic provider missing:", err)
	}
	images := core.NewImageService(requester, openai, generic, log)

	// 函数调用
	functions := core.NewFunctionRegistry(metrics, log)
	if generic.Endpoint != "" {
		functions.Register(core.NewImageGenerationFunction(images, cfg.ImageModel))
		functions.Register(core.NewImageEditFunction(images, cfg.ImageEditModel))
	}
	if cfg.SearchAPIURL != "" {
		functions.Register(core.NewWebSearchFunction(httpClient, cfg.SearchAPIURL, cfg.SearchAPIKey))
	}

	errorLog, err := core.NewStreamErrorLog(streamErrorLogFile, 10)
	if err != nil {
		log.Warnf("Stream error log disabled: %v", err)
	}
	defer errorLog.Close()

	recorder := core.NewAsyncUpstreamLogger(db, log)
	defer recorder.Close()

	relay := core.NewStreamRelay(functions, errorLog, metrics, cfg.FunctionMaxDepth, log)
	orchestrator := core.NewFallbackOrchestrator(requester, relay, openai, functions, cfg.FallbackEndpoints, recorder, metrics, log)
	titles := core.NewTitleGenerator(router, requester, openai, chatStore, log)
	poller := core.NewModelStatusPoller(router, requester, openai, log)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if err := poller.Start(ctx, cfg.ModelStatusSchedule); err != nil {
		log.Fatal("Failed to start model status poller:", err)
	}

	if cfg.RoutesFile != "" {
		watcher, err := core.NewRoutesWatcher(cfg.RoutesFile, router, cfg.Providers, log)
		if err != nil {
			log.Warnf("Routing table hot reload disabled: %v", err)
		} else {
			go watcher.Run(ctx)
		}
	}

	limiter := NewIPRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	go limiter.Run(ctx)

	a := &app{
		store:        chatStore,
		router:       router,
		registry:     registry,
		affinity:     affinity,
		orchestrator: orchestrator,
		images:       images,
		imageHost:    core.NewImageHost(httpClient, cfg.ImgBBEndpoint, cfg.ImgBBAPIKey, log),
		titles:       titles,
		poller:       poller,
		recorder:     recorder,
		timeout:      cfg.RequestTimeout,
		logger:       log,
	}

	engine := gin.New()
	engine.Use(gin.RecoveryWithWriter(log.Writer()))
	engine.Use(corsMiddleware(cfg.CORSOrigins))
	engine.Use(requestIDMiddleware())
	engine.Use(requestLoggerMiddleware(log))
	engine.Use(rateLimitMiddleware(limiter, log))
	setupRoutes(engine, a, authn, metrics)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: engine,
	}

	// 启动服务器
	go func() {
		log.Infof("🚀 Fronix gateway listening on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server:", err)
		}
	}()

	// 等待中断信号以优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown:", err)
	}

	log.Info("Server exited")
}
