// Package config builds runtime settings for both binaries: defaults, then an
// optional JSON file named by -c or -config, then command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"
)

const (
	BlobS3     = "s3"
	BlobGridFS = "gridfs"
	BlobMemory = "memory"

	// program names passed to Load
	Server = "server"
	Client = "client"
)

type Config struct {
	MongoURI      string `json:"mongo_uri"`
	MongoDatabase string `json:"mongo_database"`

	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`

	HTTPAddr string `json:"http_addr"`
	// PublicBaseURL is where the gateway is reachable by clients; GridFS
	// attachment addresses are built on it.
	PublicBaseURL string `json:"public_base_url"`

	BlobBackend     string        `json:"blob_backend"`
	S3AccessKey     string        `json:"s3_access_key"`
	S3SecretKey     string        `json:"s3_secret_key"`
	S3Bucket        string        `json:"s3_bucket"`
	S3Region        string        `json:"s3_region"`
	S3BaseEndpoint  string        `json:"s3_base_endpoint"`
	S3PublicBaseURL string        `json:"s3_public_base_url"`
	S3PresignTTL    time.Duration `json:"-"`

	ImageQuality      int `json:"image_quality"`
	MaxImageBytes     int `json:"max_image_bytes"`
	MaxImageDimension int `json:"max_image_dimension"`

	CacheMaxEntries   int           `json:"cache_max_entries"`
	ImageCacheTTL     time.Duration `json:"-"`
	FetchTimeout      time.Duration `json:"-"`
	ReconcileInterval time.Duration `json:"-"`

	LogLevel string `json:"log_level"`
	LogJSON  bool   `json:"log_json"`
	// LogFile replaces stderr as the log destination.
	LogFile string `json:"log_file"`

	// Args are the positional arguments left after flags.
	Args []string `json:"-"`
}

func (c *Config) LoadDefaults() {
	c.MongoURI = "mongodb://localhost:27017"
	c.MongoDatabase = "mydb"
	c.RedisAddr = "localhost:6379"
	c.RedisPassword = ""
	c.RedisDB = 0
	c.HTTPAddr = "localhost:9090"
	c.PublicBaseURL = "http://localhost:9090"
	c.BlobBackend = BlobGridFS
	c.S3AccessKey = "admin"
	c.S3SecretKey = "secretpassword"
	c.S3Bucket = "attachments"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = "http://127.0.0.1:9000/"
	c.S3PresignTTL = 24 * time.Hour
	c.ImageQuality = 80
	c.MaxImageBytes = 1 << 20
	c.MaxImageDimension = 1600
	c.CacheMaxEntries = 0
	c.ImageCacheTTL = time.Hour
	c.FetchTimeout = 15 * time.Second
	c.ReconcileInterval = 30 * time.Second
	c.LogLevel = "info"
	c.LogJSON = false
	c.LogFile = ""
}

// Load builds a Config for the program called name from its arguments
// (without the program name).
func Load(name string, args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if path := configFile(args); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.parseFlags(name, args); err != nil {
		return nil, err
	}
	err := cfg.Validate()
	if name == Client && cfg.BlobBackend == BlobMemory {
		// the peer resolves attachment addresses against the gateway, which
		// never sees a client's in-process store
		err = errors.Join(err, errors.New("blob backend memory is gateway only"))
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) parseFlags(name string, args []string) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	var ignored string
	fs.StringVar(&ignored, "c", "", "path to a JSON config file")
	fs.StringVar(&ignored, "config", "", "path to a JSON config file")

	fs.StringVar(&c.MongoURI, "mongo-uri", c.MongoURI, "MongoDB connection URI (replica set, change streams are required)")
	fs.StringVar(&c.MongoDatabase, "mongo-db", c.MongoDatabase, "MongoDB database")
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "redis address")
	fs.StringVar(&c.RedisPassword, "redis-password", c.RedisPassword, "redis password")
	fs.IntVar(&c.RedisDB, "redis-db", c.RedisDB, "redis database")
	fs.StringVar(&c.HTTPAddr, "addr", c.HTTPAddr, "gateway listen address")
	fs.StringVar(&c.PublicBaseURL, "public-url", c.PublicBaseURL, "gateway URL reachable by clients")
	fs.StringVar(&c.BlobBackend, "blob", c.BlobBackend, "attachment store: s3, gridfs or memory")
	fs.StringVar(&c.S3AccessKey, "s3-access-key", c.S3AccessKey, "S3 access key")
	fs.StringVar(&c.S3SecretKey, "s3-secret-key", c.S3SecretKey, "S3 secret key")
	fs.StringVar(&c.S3Bucket, "s3-bucket", c.S3Bucket, "S3 bucket")
	fs.StringVar(&c.S3Region, "s3-region", c.S3Region, "S3 region")
	fs.StringVar(&c.S3BaseEndpoint, "s3-endpoint", c.S3BaseEndpoint, "S3 endpoint for S3-compatible servers")
	fs.StringVar(&c.S3PublicBaseURL, "s3-public-url", c.S3PublicBaseURL, "public bucket URL; presigned links are used when empty")
	fs.DurationVar(&c.S3PresignTTL, "s3-presign-ttl", c.S3PresignTTL, "lifetime of presigned attachment links")
	fs.IntVar(&c.ImageQuality, "image-quality", c.ImageQuality, "JPEG quality of uploaded images (1-100)")
	fs.IntVar(&c.MaxImageBytes, "image-max-bytes", c.MaxImageBytes, "largest encoded image")
	fs.IntVar(&c.MaxImageDimension, "image-max-dim", c.MaxImageDimension, "longest image edge in pixels")
	fs.IntVar(&c.CacheMaxEntries, "cache-max-entries", c.CacheMaxEntries, "image cache bound, 0 for unbounded")
	fs.DurationVar(&c.ImageCacheTTL, "image-cache-ttl", c.ImageCacheTTL, "redis image cache TTL, 0 disables it")
	fs.DurationVar(&c.FetchTimeout, "fetch-timeout", c.FetchTimeout, "timeout of one image fetch")
	fs.DurationVar(&c.ReconcileInterval, "reconcile-interval", c.ReconcileInterval, "repair queue drain interval")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	fs.BoolVar(&c.LogJSON, "log-json", c.LogJSON, "JSON log output")
	fs.StringVar(&c.LogFile, "log-file", c.LogFile, "log file, stderr when empty")

	if err := fs.Parse(args); err != nil {
		return err
	}
	c.Args = fs.Args()
	return nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.BlobBackend {
	case BlobS3:
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("s3 bucket is required"))
		}
		if c.S3PresignTTL <= 0 || c.S3PresignTTL > 7*24*time.Hour {
			errs = append(errs, errors.New("s3 presign ttl must be within (0, 7d]"))
		}
	case BlobGridFS, BlobMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown blob backend %q", c.BlobBackend))
	}

	if c.ImageQuality < 1 || c.ImageQuality > 100 {
		errs = append(errs, fmt.Errorf("image quality %d out of range", c.ImageQuality))
	}
	if c.MaxImageBytes <= 0 {
		errs = append(errs, errors.New("image max bytes must be positive"))
	}
	if c.MaxImageDimension < 64 {
		errs = append(errs, errors.New("image max dimension must be at least 64"))
	}
	if c.CacheMaxEntries < 0 {
		errs = append(errs, errors.New("cache max entries must not be negative"))
	}
	if c.ReconcileInterval <= 0 {
		errs = append(errs, errors.New("reconcile interval must be positive"))
	}
	return errors.Join(errs...)
}
