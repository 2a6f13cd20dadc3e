package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"resident_chat/internal/config"
	"resident_chat/internal/repository/chat"
	"resident_chat/internal/repository/user"
	"resident_chat/internal/service/app"
	"resident_chat/internal/service/attachment"
	"resident_chat/internal/service/blob"
	"resident_chat/internal/service/cache"
	"resident_chat/internal/service/convlog"
	"resident_chat/internal/service/reconcile"
	redisSvc "resident_chat/internal/service/redis"
	"resident_chat/internal/service/subscription"
	"resident_chat/internal/utils/log"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(config.Client, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if len(cfg.Args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: client [flags] <username>")
		os.Exit(2)
	}
	username := cfg.Args[0]

	// the terminal belongs to the UI
	logFile := cfg.LogFile
	if logFile == "" {
		logFile = "client.log"
	}
	if err := log.Init(cfg.LogLevel, cfg.LogJSON, logFile); err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	blobs, _, err := blob.Open(ctx, blob.OpenOptions{
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

	conversations := convlog.NewConversationLog(chat.NewChatRepo(db), reconcile.NewRedisQueue(redis, reconcile.DefaultQueueKey))

	pipeline := attachment.DefaultConfig()
	pipeline.Quality = cfg.ImageQuality
	pipeline.MaxBytes = cfg.MaxImageBytes
	pipeline.MaxDimension = cfg.MaxImageDimension

	var fetcher cache.Fetcher = cache.NewHTTPFetcher(&http.Client{Timeout: cfg.FetchTimeout})
	if cfg.ImageCacheTTL > 0 {
		fetcher = cache.NewRedisFetcher(fetcher, redis, cfg.ImageCacheTTL)
	}
	images := cache.NewImageLoader(fetcher,
		cache.WithMaxEntries(cfg.CacheMaxEntries),
		cache.WithFetchTimeout(cfg.FetchTimeout))

	userRepo := user.NewUserRepo(db)
	app := app.NewApp(userRepo, conversations, subscription.NewFeed(conversations),
		attachment.NewPipeline(blobs, pipeline), images)

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-done
		app.Stop()
	}()

	if err := app.Run(ctx, username); err != nil {
		log.Error("client stopped", zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
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
