package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"sagaflow/internal/alert"
	"sagaflow/internal/api"
	"sagaflow/internal/config"
	"sagaflow/internal/compensate"
	"sagaflow/internal/engine"
	"sagaflow/internal/invoker"
	"sagaflow/internal/metrics"
	"sagaflow/internal/saga"
	"sagaflow/internal/store"
	"sagaflow/internal/store/memory"
	"sagaflow/internal/store/postgres"
	redisstore "sagaflow/internal/store/redis"
	"sagaflow/internal/supervisor"
)

const connectTimeout = 2 * time.Second

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.ValidateForDaemon(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	st, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer closeStore()

	notifier, closeNotifier := openNotifier(cfg)
	defer closeNotifier()

	registry, err := saga.NewRegistry(cfg.Sagas...)
	if err != nil {
		log.Fatalf("saga definitions invalid: %v", err)
	}

	// Actions are dispatched through a no-op invoker until real service
	// handlers are registered. Each step echoes its input back as the result.
	coordinator, err := compensate.New(st, invoker.Noop{}, notifier)
	if err != nil {
		log.Fatalf("coordinator init failed: %v", err)
	}
	eng, err := engine.New(st, invoker.Noop{}, coordinator)
	if err != nil {
		log.Fatalf("engine init failed: %v", err)
	}
	sup, err := supervisor.New(registry, st, eng, cfg.Supervisor)
	if err != nil {
		log.Fatalf("supervisor init failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	resumed, err := sup.Recover(ctx)
	cancel()
	if err != nil {
		log.Printf("recovery failed: %v", err)
	} else if resumed > 0 {
		log.Printf("resumed %d active saga(s)", resumed)
	}

	metrics.Init()
	r := api.NewRouter(sup)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	server := &http.Server{
		Addr:    cfg.API.Addr,
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	log.Printf("sagad listening on %s store=%s pool_size=%d definitions=%d",
		cfg.API.Addr, cfg.Store.Backend, cfg.Supervisor.PoolSize, len(cfg.Sagas))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	cancel()

	sup.Close()
	log.Printf("sagad shutting down")
}

func openStore(cfg config.Config) (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		if err := client.Ping(ctx).Err(); err != nil {
			log.Printf("redis ping failed: %v", err)
		}
		cancel()
		st := redisstore.NewWithClient(client)
		return st, func() {
			if err := st.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		}, nil
	case config.StorePostgres:
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		err := postgres.CheckConnectivity(ctx, cfg.Postgres.DSN)
		cancel()
		if err != nil {
			log.Printf("postgres connectivity check failed: %v", err)
		}
		ctx, cancel = context.WithTimeout(context.Background(), connectTimeout)
		st, err := postgres.New(ctx, cfg.Postgres.DSN)
		cancel()
		if err != nil {
			return nil, nil, err
		}
		ctx, cancel = context.WithTimeout(context.Background(), connectTimeout)
		err = st.Migrate(ctx)
		cancel()
		if err != nil {
			st.Close()
			return nil, nil, err
		}
		return st, st.Close, nil
	default:
		return memory.New(), func() {}, nil
	}
}

func openNotifier(cfg config.Config) (alert.Notifier, func()) {
	if !cfg.AlertsEnabled() {
		return alert.NoopNotifier{}, func() {}
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	if err := alert.CheckConnectivity(ctx, cfg.Alerts.Brokers); err != nil {
		log.Printf("kafka connectivity check failed: %v", err)
	}
	cancel()

	notifier, err := alert.NewKafkaNotifier(cfg.Alerts)
	if err != nil {
		log.Printf("kafka notifier init failed: %v", err)
		return alert.NoopNotifier{}, func() {}
	}
	return notifier, func() {
		if err := notifier.Close(); err != nil {
			log.Printf("kafka notifier close error: %v", err)
		}
	}
}
