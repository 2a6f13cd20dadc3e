package cache

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"time"

	"resident_chat/internal/model"
	redisSvc "resident_chat/internal/service/redis"
	"resident_chat/internal/utils/log"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	_ "golang.org/x/image/webp"
)

const defaultMaxImageBytes = 10 << 20

type (
	// Image is a fetched attachment or avatar whose bytes decoded cleanly.
	Image struct {
		Data   []byte
		Format string
		Width  int
		Height int
	}

	Fetcher interface {
		Fetch(ctx context.Context, address string) ([]byte, error)
	}

	HTTPFetcher struct {
		client   *http.Client
		maxBytes int64
	}

	kvStore interface {
		Get(ctx context.Context, key string) (string, error)
		Set(ctx context.Context, key string, value any, ttl time.Duration) error
	}

	// RedisFetcher keeps fetched bytes in redis so that a restarted client or
	// another process skips the network round trip.
	RedisFetcher struct {
		next Fetcher
		kv   kvStore
		ttl  time.Duration
	}
)

func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPFetcher{client: client, maxBytes: defaultMaxImageBytes}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, address string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", address, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("fetch %s: body exceeds %d bytes", address, f.maxBytes)
	}
	return data, nil
}

func NewRedisFetcher(next Fetcher, kv kvStore, ttl time.Duration) *RedisFetcher {
	return &RedisFetcher{next: next, kv: kv, ttl: ttl}
}

func (f *RedisFetcher) Fetch(ctx context.Context, address string) ([]byte, error) {
	key := redisKey(address)

	v, err := f.kv.Get(ctx, key)
	if err == nil {
		return []byte(v), nil
	}
	if !redisSvc.IsNil(err) {
		log.Warn("image cache read failed", zap.String("address", address), zap.Error(err))
	}

	data, err := f.next.Fetch(ctx, address)
	if err != nil {
		return nil, err
	}

	if err := f.kv.Set(ctx, key, data, f.ttl); err != nil {
		log.Warn("image cache write failed", zap.String("address", address), zap.Error(err))
	}
	return data, nil
}

func redisKey(address string) string {
	sum := blake2b.Sum256([]byte(address))
	return "img:" + hex.EncodeToString(sum[:])
}

// DecodeImage checks that data is an image this process can render.
func DecodeImage(key string, data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, &model.DecodeError{Key: key, Err: fmt.Errorf("empty body")}
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &model.DecodeError{Key: key, Err: err}
	}
	return &Image{Data: data, Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

// NewImageLoader fetches addresses through f and keeps decoded images.
func NewImageLoader(f Fetcher, opts ...Option) *Loader[*Image] {
	return NewLoader(func(ctx context.Context, address string) (*Image, error) {
		data, err := f.Fetch(ctx, address)
		if err != nil {
			return nil, err
		}
		return DecodeImage(address, data)
	}, opts...)
}
