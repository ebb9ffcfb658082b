package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/newt-tracker/offline/internal/cache"
	"github.com/newt-tracker/offline/internal/config"
	"github.com/newt-tracker/offline/internal/lock"
	"github.com/newt-tracker/offline/internal/observe"
	"github.com/newt-tracker/offline/internal/offline"
	"github.com/newt-tracker/offline/internal/origin"
)

// runtime is everything a command needs, built from the environment.
type runtime struct {
	cfg     config.Config
	storage cache.Storage
	origin  *origin.Client
	worker  *offline.Worker
	redis   *redis.Client
}

func newRuntime(ctx context.Context, cfg config.Config, log *zap.Logger, metrics observe.Metrics) (*runtime, error) {
	rt := &runtime{cfg: cfg}

	if cfg.RedisAddr != "" {
		rt.redis = lock.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	}

	storage, err := newStorage(ctx, cfg, rt.redis)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.storage = storage

	originClient, err := origin.NewClient(cfg.OriginURL, nil, cfg.UpstreamTimeout())
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("origin client: %w", err)
	}
	rt.origin = originClient

	var locker lock.Locker = lock.NewLocalLocker()
	if rt.redis != nil {
		locker = lock.NewRedisLocker(rt.redis)
	}

	worker, err := offline.New(offline.Options{
		CacheName:   cfg.CacheName(),
		Manifest:    cfg.Manifest,
		Storage:     storage,
		Origin:      originClient,
		Locker:      locker,
		LockTTL:     cfg.LockTTL(),
		MaxLockWait: cfg.MaxLockWait(),
		Logger:      log,
		Metrics:     metrics,

		MaxObjectBytes: cfg.MaxObjectBytes,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.worker = worker
	return rt, nil
}

func newStorage(ctx context.Context, cfg config.Config, redisClient *redis.Client) (cache.Storage, error) {
	switch cfg.Store {
	case config.StoreS3:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.S3Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")),
		)
		if err != nil {
			return nil, fmt.Errorf("aws config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = true
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		})
		return cache.NewS3Storage(cfg.S3Bucket, cfg.S3Prefix, client), nil
	case config.StoreRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("redis store needs NEWT_REDIS_ADDR")
		}
		return cache.NewRedisStorage(redisClient), nil
	default:
		return cache.NewMemoryStorage(), nil
	}
}

func (rt *runtime) Close() {
	if rt.worker != nil {
		rt.worker.Close()
	}
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
}
