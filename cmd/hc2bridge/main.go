package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/moroshma/hc2stream/internal/config"
	"github.com/moroshma/hc2stream/internal/domain/repository"
	"github.com/moroshma/hc2stream/internal/metrics"
	minioRepo "github.com/moroshma/hc2stream/internal/repository/minio"
	natsRepo "github.com/moroshma/hc2stream/internal/repository/nats"
	redisRepo "github.com/moroshma/hc2stream/internal/repository/redis"
	tarantoolRepo "github.com/moroshma/hc2stream/internal/repository/tarantool"
	"github.com/moroshma/hc2stream/internal/server"
	"github.com/moroshma/hc2stream/internal/usecase"
	"github.com/moroshma/hc2stream/pkg/fibaro"
	"github.com/moroshma/hc2stream/pkg/logger"
)

var (
	configPath = flag.String("config", "", "Path to configuration file (optional)")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	appLogger, err := logger.New(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		OutputPath: cfg.Logger.OutputPath,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting HC2 change bridge",
		logger.String("version", "1.0.0"),
		logger.Int("http_port", cfg.Server.HTTPPort),
		logger.Int("grpc_port", cfg.Server.GRPCPort),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vaultClient, err := config.NewVaultClient(&cfg.Vault)
	if err != nil {
		appLogger.Fatal("Failed to create Vault client", logger.Error(err))
	}
	if vaultClient != nil {
		appLogger.Info("Loading secrets from Vault")
		if err := config.ApplyVaultSecrets(ctx, cfg, vaultClient); err != nil {
			appLogger.Fatal("Failed to apply Vault secrets", logger.Error(err))
		}
		appLogger.Info("Secrets loaded from Vault successfully")
	} else {
		appLogger.Info("Vault is disabled - using configuration file values")
	}

	m := metrics.New()

	if cfg.Hub.Host == "" {
		host, err := discoverHub(ctx, cfg, m, appLogger)
		if err != nil {
			appLogger.Fatal("Hub discovery failed", logger.Error(err))
		}
		cfg.Hub.Host = host
	}

	client, err := fibaro.NewClient(fibaro.ClientConfig{
		Host:     cfg.Hub.Host,
		Username: cfg.Hub.Username,
		Password: cfg.Hub.Password,
		Timeout:  cfg.Hub.Timeout,
	}, fibaro.WithLogger(appLogger.Named("fibaro")))
	if err != nil {
		appLogger.Fatal("Failed to create hub client", logger.Error(err))
	}
	appLogger.Info("Hub client ready", logger.String("host", cfg.Hub.Host))

	sinks, err := buildSinks(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to initialize sinks", logger.Error(err))
	}
	defer closeSinks(sinks, appLogger)

	if len(sinks) == 0 {
		appLogger.Warn("No sinks enabled, changes are only counted")
	}

	bridge := usecase.NewBridgeUseCase(client, sinks, m, appLogger.Named("bridge"), usecase.BridgeConfig{
		PollDelay:            cfg.Hub.PollDelay,
		ResyncOnReset:        cfg.Hub.ResyncOnReset,
		SinkTimeout:          cfg.Bridge.SinkTimeout,
		RetryInitialInterval: cfg.Bridge.RetryInitialInterval,
		RetryMaxInterval:     cfg.Bridge.RetryMaxInterval,
		RetryMaxElapsed:      cfg.Bridge.RetryMaxElapsed,
	})

	srv := server.New(server.Config{
		HTTPPort: cfg.Server.HTTPPort,
		GRPCPort: cfg.Server.GRPCPort,
	}, bridge, m.Handler(), appLogger.Named("server"))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return bridge.Run(gctx)
	})

	g.Go(func() error {
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down gracefully...")
		bridge.Stop()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Bridge stopped with error", logger.Error(err))
		closeSinks(sinks, appLogger)
		appLogger.Sync()
		os.Exit(1)
	}

	appLogger.Info("Bridge stopped")
}

func discoverHub(ctx context.Context, cfg *config.Config, m *metrics.Metrics, log *logger.Logger) (string, error) {
	if !cfg.Discovery.Enabled {
		return "", fmt.Errorf("hub host is not configured and discovery is disabled")
	}

	log.Info("Discovering hubs", logger.Duration("timeout", cfg.Discovery.Timeout))

	var found []fibaro.DiscoveredHub
	err := fibaro.Discover(ctx, func(hub fibaro.DiscoveredHub) {
		m.ObserveDiscovery()
		log.Info("Hub found",
			logger.String("ip", hub.IP),
			logger.String("serial", hub.Serial),
			logger.String("mac", hub.MAC),
		)
		found = append(found, hub)
	},
		fibaro.WithTimeout(cfg.Discovery.Timeout),
		fibaro.WithListenAddr(cfg.Discovery.ListenAddr),
		fibaro.WithBroadcastAddr(cfg.Discovery.BroadcastAddr),
		fibaro.WithDiscoveryLogger(log.Named("discovery")),
	)
	if err != nil {
		return "", err
	}
	if len(found) == 0 {
		return "", fmt.Errorf("no hub answered within %s", cfg.Discovery.Timeout)
	}
	if len(found) > 1 {
		log.Warn("Several hubs answered, using the first one", logger.Int("count", len(found)))
	}

	return found[0].IP, nil
}

// buildSinks connects every enabled sink
func buildSinks(ctx context.Context, cfg *config.Config, log *logger.Logger) ([]repository.SinkRepository, error) {
	var sinks []repository.SinkRepository

	fail := func(err error) ([]repository.SinkRepository, error) {
		closeSinks(sinks, log)
		return nil, err
	}

	if cfg.Tarantool.Enabled {
		log.Info("Connecting to Tarantool", logger.String("address", cfg.Tarantool.Address))
		repo, err := tarantoolRepo.NewRepository(&tarantoolRepo.Config{
			Address:  cfg.Tarantool.Address,
			User:     cfg.Tarantool.User,
			Password: cfg.Tarantool.Password,
			Timeout:  cfg.Tarantool.Timeout,
			Space:    cfg.Tarantool.Space,
		}, log)
		if err != nil {
			return fail(fmt.Errorf("tarantool: %w", err))
		}
		sinks = append(sinks, repo)

		if err := repo.Ping(); err != nil {
			return fail(fmt.Errorf("tarantool ping: %w", err))
		}
		log.Info("✓ Connected to Tarantool")
	}

	if cfg.MinIO.Enabled {
		log.Info("Connecting to MinIO",
			logger.String("endpoint", cfg.MinIO.Endpoint),
			logger.String("bucket", cfg.MinIO.BucketName),
		)
		repo, err := minioRepo.NewRepository(&minioRepo.Config{
			Endpoint:        cfg.MinIO.Endpoint,
			AccessKeyID:     cfg.MinIO.AccessKeyID,
			SecretAccessKey: cfg.MinIO.SecretAccessKey,
			UseSSL:          cfg.MinIO.UseSSL,
			BucketName:      cfg.MinIO.BucketName,
		}, log)
		if err != nil {
			return fail(fmt.Errorf("minio: %w", err))
		}
		sinks = append(sinks, repo)

		if err := repo.EnsureBucket(ctx); err != nil {
			return fail(fmt.Errorf("minio bucket: %w", err))
		}
		log.Info("✓ Connected to MinIO")
	}

	if cfg.NATS.Enabled {
		log.Info("Connecting to NATS", logger.String("url", cfg.NATS.URL))
		repo, err := natsRepo.NewRepository(&natsRepo.Config{
			URL:           cfg.NATS.URL,
			User:          cfg.NATS.User,
			Password:      cfg.NATS.Password,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
		}, log)
		if err != nil {
			return fail(fmt.Errorf("nats: %w", err))
		}
		sinks = append(sinks, repo)
		log.Info("✓ Connected to NATS")
	}

	if cfg.Redis.Enabled {
		log.Info("Connecting to Redis", logger.String("addr", cfg.Redis.Addr))
		repo, err := redisRepo.NewRepository(&redisRepo.Config{
			Addr:       cfg.Redis.Addr,
			Username:   cfg.Redis.Username,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			Channel:    cfg.Redis.Channel,
			TLSEnabled: cfg.Redis.TLS,
		}, log)
		if err != nil {
			return fail(fmt.Errorf("redis: %w", err))
		}
		sinks = append(sinks, repo)
		log.Info("✓ Connected to Redis")
	}

	return sinks, nil
}

func closeSinks(sinks []repository.SinkRepository, log *logger.Logger) {
	for _, sink := range sinks {
		if err := sink.Close(); err != nil {
			log.Warn("Failed to close sink", logger.String("sink", sink.Name()), logger.Error(err))
		}
	}
}
