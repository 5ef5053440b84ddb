package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quarterhill/stockledger/internal/adapter/handler"
	"github.com/quarterhill/stockledger/internal/adapter/storage"
	"github.com/quarterhill/stockledger/internal/config"
	"github.com/quarterhill/stockledger/internal/core/service"
	"github.com/quarterhill/stockledger/internal/scheduler"
	"github.com/quarterhill/stockledger/pkg/logger"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}

	baseLogger := logger.Must(logger.New())
	defer func() { _ = baseLogger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		baseLogger.Fatal("failed to open mysql", zap.Error(err))
	}
	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		baseLogger.Fatal("failed to ping mysql", zap.Error(err))
	}
	baseLogger.Info("connected to mysql")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		baseLogger.Fatal("failed to connect redis", zap.Error(err))
	}
	baseLogger.Info("connected to redis")

	mysqlAdapter := storage.NewMySQLAdapter(db)
	redisAdapter := storage.NewRedisAdapter(rdb)

	gate := service.NewGate()
	agg := service.NewAggregator(mysqlAdapter, mysqlAdapter, redisAdapter, cfg.Ledger.SummaryCacheTTL, baseLogger.Named("aggregator"))
	poster := service.NewPoster(mysqlAdapter, mysqlAdapter, redisAdapter, agg, gate, service.PosterConfig{
		GateOnAvailability: cfg.Ledger.GateOnAvailability,
		AppendRetries:      cfg.Ledger.AppendRetries,
	}, baseLogger.Named("poster"))
	reservations := service.NewReservationManager(mysqlAdapter, mysqlAdapter, mysqlAdapter, redisAdapter, agg, gate, baseLogger.Named("reservations"))

	httpHandler := handler.NewHTTPHandler(poster, reservations, agg, mysqlAdapter, mysqlAdapter, baseLogger.Named("handlers"))
	engine := handler.NewRouter(httpHandler, baseLogger.Named("router"))

	sched := scheduler.New(mysqlAdapter, agg, cfg.Ledger.WarmCronSchedule, baseLogger.Named("scheduler"))
	sched.Start()
	defer sched.Stop()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		baseLogger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Fatal("http server crashed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	baseLogger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("graceful shutdown failed", zap.Error(err))
	}

	rdb.Close()
	db.Close()
	baseLogger.Info("connections closed")
}
