package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailalias/backend/internal/bootstrap"
	"mailalias/backend/internal/config"
	"mailalias/backend/internal/health"
	"mailalias/backend/internal/logger"
	"mailalias/backend/internal/monitoring"
	httptransport "mailalias/backend/internal/transport/http"
	"mailalias/backend/internal/watch"
	"mailalias/backend/internal/websocket"
)

// main 启动别名管理服务：HTTP、WebSocket 同步协议和映射文件重载。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     cfg.Log.File,
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("starting alias map server",
		zap.String("store", cfg.Store.Type),
		zap.String("allow_map", cfg.Maps.AllowPath),
		zap.String("block_map", cfg.Maps.BlockPath),
		zap.Bool("reload_command", cfg.Reload.Command != ""),
		zap.String("log_level", cfg.Log.Level),
	)

	backend, err := bootstrap.OpenStore(cfg, log)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer func() {
		if err := backend.Store.Close(); err != nil {
			log.Warn("store close error", zap.Error(err))
		}
	}()

	metrics := monitoring.NewMetrics(nil)

	writer := bootstrap.NewWriter(cfg)
	sequencer := bootstrap.NewSequencer(cfg, backend.Store, writer, log.Named("reload"))
	sequencer.SetObserver(metrics)
	aliasService := bootstrap.NewAliasService(cfg, backend.Store, sequencer, log.Named("aliases"))

	healthChecker := health.NewHealthChecker(backend.Store, writer, bootstrap.MapPaths(cfg), log)
	if backend.DB != nil {
		healthChecker.AddReadinessCheck("database", health.DatabaseHealthCheck(backend.DB))
	}
	if backend.Redis != nil {
		healthChecker.AddReadinessCheck("redis", health.RedisHealthCheck(backend.Redis))
	}
	healthChecker.LogStartupChecks()

	wsHub := websocket.NewHub(websocket.NewDispatcher(aliasService, log.Named("ws")), websocket.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Workers:        cfg.WS.Workers,
		QueueSize:      cfg.WS.QueueSize,
		Rate:           cfg.WS.Rate,
		Burst:          cfg.WS.Burst,
	}, log.Named("ws"))
	wsHub.SetObserver(metrics)
	wsHub.Workers().OnPanic(func(recovered interface{}) {
		metrics.RecordPanic()
	})
	aliasService.SetNotifier(wsHub)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:       cfg,
		AliasService: aliasService,
		WebSocketHub: wsHub,
		Health:       healthChecker,
		Metrics:      metrics,
		Logger:       log,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Reload.OnStart {
		if _, err := sequencer.Reload(ctx, true, true); err != nil {
			log.Error("initial map reload failed", zap.Error(err))
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// WebSocket Hub goroutine
	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	if cfg.Store.Watch && backend.File != nil {
		watcher, err := watch.New(backend.File, aliasService.StoreChanged, watch.DefaultDebounce, log.Named("watch"))
		if err != nil {
			log.Fatal("failed to start store watcher", zap.Error(err))
		}
		defer watcher.Close()

		group.Go(func() error {
			return watcher.Run(groupCtx)
		})
	} else if cfg.Store.Watch {
		log.Warn("store.watch is only supported for the file store", zap.String("store", cfg.Store.Type))
	}

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server error", zap.Error(err))
		return
	}

	log.Info("server exited cleanly")
}
