package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"resident_chat/internal/config"
	"resident_chat/internal/repository/chat"
	"resident_chat/internal/repository/user"
	"resident_chat/internal/service/attachment"
	"resident_chat/internal/service/blob"
	"resident_chat/internal/service/cache"
	"resident_chat/internal/service/convlog"
	"resident_chat/internal/service/reconcile"
	redisSvc "resident_chat/internal/service/redis"
	"resident_chat/internal/service/server"
	"resident_chat/internal/service/subscription"
	"resident_chat/internal/utils/log"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(config.Server, os.Args[1:])
	if err != nil {
		panic(err)
	}

	if err := initLog(cfg); err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mongoDBClient, err := initMongo(cfg.MongoURI)
	if err != nil {
		log.Fatal("connect mongo failed", zap.Error(err))
	}
	defer mongoDBClient.Disconnect(context.Background())

	db := mongoDBClient.Database(cfg.MongoDatabase)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	redis := redisSvc.NewRedis(rdb)

	chatRepo := chat.NewChatRepo(db)
	if err := chatRepo.EnsureIndexes(ctx); err != nil {
		log.Fatal("create chat indexes failed", zap.Error(err))
	}
	userRepo := user.NewUserRepo(db)

	blobs, blobReader, err := blob.Open(ctx, blob.OpenOptions{
		Backend: cfg.BlobBackend,
		S3: blob.S3Config{
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			BaseEndpoint:  cfg.S3BaseEndpoint,
			PublicBaseURL: cfg.S3PublicBaseURL,
			PresignTTL:    cfg.S3PresignTTL,
		},
		DB:         db,
		GatewayURL: cfg.PublicBaseURL,
	})
	if err != nil {
		log.Fatal("open blob store failed", zap.Error(err))
	}

	repairs := reconcile.NewRedisQueue(redis, reconcile.DefaultQueueKey)
	conversations := convlog.NewConversationLog(chatRepo, repairs)
	reconciler := reconcile.NewReconciler(chatRepo, repairs)
	go reconciler.Run(ctx, cfg.ReconcileInterval)

	s := server.NewHttpServer(cfg.HTTPAddr, server.Deps{
		Conversations: conversations,
		Feed:          subscription.NewFeed(conversations),
		Uploads:       attachment.NewPipeline(blobs, attachmentConfig(cfg)),
		Images:        newImageLoader(cfg, redis),
		Users:         userRepo,
		Reconciler:    reconciler,
		Blobs:         blobReader,
		Health: map[string]server.Pinger{
			"mongo": mongoPinger{mongoDBClient},
			"redis": redis,
		},
	})
	if err := s.Run(ctx); err != nil {
		log.Fatal("gateway stopped", zap.Error(err))
	}
	log.Info("gateway shut down")
}

func initLog(cfg *config.Config) error {
	if cfg.LogFile != "" {
		return log.Init(cfg.LogLevel, cfg.LogJSON, cfg.LogFile)
	}
	return log.Init(cfg.LogLevel, cfg.LogJSON)
}

func initMongo(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}

func attachmentConfig(cfg *config.Config) attachment.Config {
	c := attachment.DefaultConfig()
	c.Quality = cfg.ImageQuality
	c.MaxBytes = cfg.MaxImageBytes
	c.MaxDimension = cfg.MaxImageDimension
	return c
}

func newImageLoader(cfg *config.Config, redis *redisSvc.RedisService) *cache.Loader[*cache.Image] {
	var fetcher cache.Fetcher = cache.NewHTTPFetcher(&http.Client{Timeout: cfg.FetchTimeout})
	if cfg.ImageCacheTTL > 0 {
		fetcher = cache.NewRedisFetcher(fetcher, redis, cfg.ImageCacheTTL)
	}
	return cache.NewImageLoader(fetcher,
		cache.WithMaxEntries(cfg.CacheMaxEntries),
		cache.WithFetchTimeout(cfg.FetchTimeout))
}

type mongoPinger struct {
	client *mongo.Client
}

func (p mongoPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx, nil)
}
