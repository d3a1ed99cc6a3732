package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hmdp/seckill/internal/adapter/handler"
	"github.com/hmdp/seckill/internal/adapter/storage"
	"github.com/hmdp/seckill/internal/cache"
	"github.com/hmdp/seckill/internal/config"
	"github.com/hmdp/seckill/internal/core/service"
	"github.com/hmdp/seckill/internal/port"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal("open mysql", "err", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		log.Fatal("ping mysql", "err", err)
	}
	defer db.Close()
	log.Info("connected to mysql")

	// Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("ping redis", "err", err)
	}
	defer rdb.Close()
	log.Info("connected to redis")

	// Dead-letter archive is optional; without Mongo, dead letters are
	// only logged.
	var archive port.DeadLetterSink
	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatal("connect mongo", "err", err)
		}
		defer mongoClient.Disconnect(context.Background())
		if err := mongoClient.Ping(ctx, nil); err != nil {
			log.Fatal("ping mongo", "err", err)
		}
		archive = storage.NewMongoDeadLetterArchive(mongoClient, cfg.MongoDatabase)
		log.Info("connected to mongo")
	}

	// Adapters
	mysqlAdapter := storage.NewMySQLAdapter(db)
	admitter := storage.NewRedisAdmitter(rdb)
	locker := storage.NewRedisLock(rdb)
	idWorker := storage.NewRedisIDWorker(rdb)
	queue := storage.NewRedisOrderQueue(rdb, cfg.MessageTTL, cfg.MaxDeliveries)
	if err := queue.Init(ctx); err != nil {
		log.Fatal("init order queue", "err", err)
	}

	// Cache engine and services
	cacheClient := cache.NewClient(rdb, locker, cfg.RebuildWorkers, cfg.RebuildQueue)
	defer cacheClient.Close()

	seckillService := service.NewSeckillService(admitter, idWorker, queue, mysqlAdapter, cacheClient)
	shopService := service.NewShopService(mysqlAdapter, cacheClient, service.ShopLogicalExpire)

	// Persistence pipeline
	pipeline := service.NewOrderPipeline(queue, mysqlAdapter, locker, archive, cfg.PipelineWorkers)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pipeline.Run(ctx)
	}()
	log.Info("order pipeline started", "workers", cfg.PipelineWorkers)

	// HTTP
	mux := http.NewServeMux()
	handler.NewHTTPHandler(seckillService, shopService).Register(mux)
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	go func() {
		log.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Error("http server", "err", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	log.Info("http server stopped")

	cancel()
	wg.Wait()
	log.Info("order pipeline stopped")
}
