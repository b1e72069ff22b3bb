package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"arena/internal/common/cache"
	"arena/internal/common/db"
	commonmw "arena/internal/common/http/middleware"
	"arena/internal/common/mq"
	"arena/internal/common/storage"
	"arena/internal/contest/catalog"
	"arena/internal/contest/clock"
	"arena/internal/contest/controller"
	"arena/internal/contest/gate"
	"arena/internal/contest/judge"
	"arena/internal/contest/leaderboard"
	"arena/internal/contest/ledger"
	"arena/internal/contest/repository"
	"arena/internal/contest/service"
	"arena/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const defaultConfigPath = "configs/contest_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "contest service stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	bootCtx := context.Background()

	var redisCache cache.Cache
	if appCfg.Redis.Addr != "" {
		rc, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
		if err != nil {
			return fmt.Errorf("init redis failed: %w", err)
		}
		defer func() {
			_ = rc.Close()
		}()
		redisCache = rc
	}

	var (
		contestRepo repository.ContestRepository
		store       ledger.Store
	)
	if appCfg.Database.Driver == "memory" {
		logger.Warn(bootCtx, "using in-memory storage; data is lost on restart")
		contestRepo = repository.NewMemoryContestRepository()
		store = ledger.NewMemoryStore()
	} else {
		database, err := db.Open(appCfg.Database)
		if err != nil {
			return fmt.Errorf("init database failed: %w", err)
		}
		defer func() {
			_ = database.Close()
		}()
		contestRepo = repository.NewSQLContestRepository(database, redisCache, clock.System, appCfg.Contest.ContestCacheTTL, appCfg.Contest.ContestEmptyTTL)
		store = repository.NewSQLAttemptStore(database)
	}

	var locker ledger.Locker
	if appCfg.Contest.LockMode == "redis" {
		locker = ledger.NewRedisLocker(redisCache, appCfg.Contest.Lock)
	} else {
		locker = ledger.NewLocalLocker()
	}

	attemptLedger, err := ledger.New(ledger.Config{
		Store:    store,
		Locker:   locker,
		Contests: contestRepo,
		Clock:    clock.System,
	})
	if err != nil {
		return fmt.Errorf("init ledger failed: %w", err)
	}

	problems, err := buildCatalog(appCfg, redisCache)
	if err != nil {
		return err
	}

	var objStorage storage.ObjectStorage
	if appCfg.MinIO.Endpoint != "" {
		minioStorage, err := openSourceStorage(bootCtx, appCfg.MinIO, appCfg.Contest.SourceBucket)
		if err != nil {
			return err
		}
		objStorage = minioStorage
	}

	judgeClient := judge.NewLimited(judge.NewHTTPClient(appCfg.Judge), appCfg.Contest.JudgeParallel, appCfg.Contest.JudgeQueueWait)

	board := leaderboard.NewBuilder(contestRepo, attemptLedger, appCfg.Contest.Scoring, clock.System, redisCache, appCfg.Contest.Leaderboard)
	attemptLedger.AddListener(board)

	submissionGate, err := gate.New(gate.Config{
		Contests:        contestRepo,
		Ledger:          attemptLedger,
		Catalog:         problems,
		Judge:           judgeClient,
		Cache:           redisCache,
		Storage:         objStorage,
		Clock:           clock.System,
		Languages:       appCfg.Contest.Languages,
		MaxCodeBytes:    appCfg.Contest.MaxCodeBytes,
		PersistRuns:     *appCfg.Contest.PersistRuns,
		SourceBucket:    appCfg.Contest.SourceBucket,
		SourceKeyPrefix: appCfg.Contest.SourceKeyPrefix,
		IdempotencyTTL:  appCfg.Contest.IdempotencyTTL,
		RateLimit:       appCfg.Contest.RateLimit,
		Timeouts:        appCfg.Contest.Timeouts,
	})
	if err != nil {
		return fmt.Errorf("init submission gate failed: %w", err)
	}

	contestService, err := service.NewContestService(service.Config{
		Contests:    contestRepo,
		Attempts:    attemptLedger,
		Gate:        submissionGate,
		Leaderboard: board,
		Catalog:     problems,
		Engine:      appCfg.Contest.Scoring,
		Clock:       clock.System,
	})
	if err != nil {
		return fmt.Errorf("init contest service failed: %w", err)
	}

	var mqClient mq.MessageQueue
	if len(appCfg.Kafka.Brokers) > 0 {
		kafkaQueue, err := mq.NewKafkaQueue(appCfg.Kafka)
		if err != nil {
			return fmt.Errorf("init kafka failed: %w", err)
		}
		defer func() {
			_ = kafkaQueue.Close()
		}()
		mqClient = kafkaQueue

		publisher := repository.NewMQAttemptEventPublisher(mqClient, appCfg.Topics.Attempts, appCfg.InstanceID, 0)
		attemptLedger.AddListener(publisher)

		consumer := service.NewAttemptEventConsumer(mqClient, board, appCfg.InstanceID)
		if err := consumer.Subscribe(bootCtx, appCfg.Topics.Attempts, appCfg.Topics.ConsumerGroup, nil); err != nil {
			return fmt.Errorf("subscribe attempt events failed: %w", err)
		}
	} else {
		logger.Warn(bootCtx, "kafka brokers not configured; rankings are only refreshed by this instance")
	}

	httpServer := buildHTTPServer(appCfg, contestService)
	httpListener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	healthServer := health.NewServer()
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	grpcListener, err := net.Listen("tcp", appCfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("init grpc listener failed: %w", err)
	}

	sweeper := service.NewSweeper(attemptLedger, appCfg.Contest.SweepInterval, appCfg.Contest.StaleAfter)

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	group, ctx := errgroup.WithContext(shutdownCtx)

	group.Go(func() error {
		logger.Info(ctx, "contest http server started", zap.String("addr", appCfg.Server.Addr))
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		logger.Info(ctx, "contest health server started", zap.String("addr", appCfg.GRPC.Addr))
		return grpcServer.Serve(grpcListener)
	})
	group.Go(func() error {
		return sweeper.Run(ctx)
	})
	group.Go(func() error {
		<-ctx.Done()
		logger.Info(context.Background(), "shutting down")
		healthServer.Shutdown()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(timeoutCtx); err != nil {
			logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
		}
		if mqClient != nil {
			_ = mqClient.Stop()
		}
		grpcServer.GracefulStop()
		return nil
	})

	return group.Wait()
}

// openSourceStorage connects to MinIO and creates the source bucket if missing.
func openSourceStorage(ctx context.Context, cfg storage.MinIOConfig, bucket string) (*storage.MinIOStorage, error) {
	minioStorage, err := storage.NewMinIOStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("init minio failed: %w", err)
	}
	if err := minioStorage.EnsureBucket(ctx, bucket); err != nil {
		return nil, fmt.Errorf("ensure source bucket %q failed: %w", bucket, err)
	}
	return minioStorage, nil
}

func buildCatalog(appCfg *AppConfig, redisCache cache.Cache) (catalog.Catalog, error) {
	if appCfg.Catalog.File != "" {
		static, err := catalog.LoadStatic(appCfg.Catalog.File)
		if err != nil {
			return nil, fmt.Errorf("load problem catalog failed: %w", err)
		}
		return static, nil
	}
	client := catalog.NewHTTPClient(appCfg.Catalog.HTTP)
	if redisCache == nil {
		return client, nil
	}
	return catalog.NewCached(client, redisCache, appCfg.Catalog.Cache), nil
}

func buildHTTPServer(appCfg *AppConfig, contestService *service.ContestService) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.CORSMiddleware(appCfg.CORS))
	router.Use(commonmw.RequestLogger())

	api := router.Group("/api/v1", commonmw.IdentityMiddleware(appCfg.Auth))
	contestController := controller.NewContestController(contestService, controller.StreamConfig{
		PingInterval:    appCfg.Contest.StreamPing,
		RefreshInterval: appCfg.Contest.StreamRefresh,
		AllowedOrigins:  appCfg.CORS.AllowedOrigins,
	})
	contestController.Register(api)

	return &http.Server{
		Addr:         appCfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
		IdleTimeout:  appCfg.Server.IdleTimeout,
	}
}
