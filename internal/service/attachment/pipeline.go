// Package attachment turns a picked image into a durable, fetchable address:
// encode, upload under a fresh key, resolve. The steps are not atomic; an
// address is returned only when all three succeeded.
package attachment

import (
	"context"
	"encoding/hex"
	"fmt"

	"resident_chat/internal/model"
	"resident_chat/internal/service/blob"
	"resident_chat/internal/utils/log"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

const (
	DefaultQuality      = 80
	DefaultMaxBytes     = 1 << 20
	DefaultMaxDimension = 1600
	DefaultMaxPixels    = 40_000_000 // source bound, also used when Config.MaxPixels is zero
	DefaultKeyPrefix    = "images/"

	encodedContentType = "image/jpeg"
)

type (
	Config struct {
		Quality      int
		MaxBytes     int
		MaxDimension int
		MaxPixels    int
		KeyPrefix    string
	}

	Pipeline struct {
		store  blob.Store
		cfg    Config
		newKey func() string
	}
)

func DefaultConfig() Config {
	return Config{
		Quality:      DefaultQuality,
		MaxBytes:     DefaultMaxBytes,
		MaxDimension: DefaultMaxDimension,
		MaxPixels:    DefaultMaxPixels,
		KeyPrefix:    DefaultKeyPrefix,
	}
}

func NewPipeline(store blob.Store, cfg Config) *Pipeline {
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = DefaultQuality
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}

	p := &Pipeline{store: store, cfg: cfg}
	p.newKey = func() string {
		return fmt.Sprintf("%s%s.jpg", p.cfg.KeyPrefix, uuid.NewString())
	}
	return p
}

// Upload runs the whole pipeline. Errors are *model.EncodeError (nothing was
// sent to the blob store) or *model.UploadError.
func (p *Pipeline) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	encoded, err := Encode(data, contentType, p.cfg)
	if err != nil {
		return "", &model.EncodeError{Err: err}
	}

	key := p.newKey()
	digest := blake2b.Sum256(encoded)

	err = p.store.Put(ctx, &blob.Object{
		Key:         key,
		Data:        encoded,
		ContentType: encodedContentType,
		Metadata: map[string]string{
			"digest":      "blake2b-256:" + hex.EncodeToString(digest[:]),
			"source-type": contentType,
		},
	})
	if err != nil {
		return "", &model.UploadError{Step: model.StepPut, Key: key, Err: err}
	}

	address, err := p.store.Resolve(ctx, key)
	if err == nil && address == "" {
		err = fmt.Errorf("empty address")
	}
	if err != nil {
		// the object stays orphaned; no message will reference it
		log.Warn("resolve uploaded attachment failed", zap.String("key", key), zap.Error(err))
		return "", &model.UploadError{Step: model.StepResolve, Key: key, Err: err}
	}

	log.Debug("attachment uploaded",
		zap.String("key", key),
		zap.Int("source_bytes", len(data)),
		zap.Int("encoded_bytes", len(encoded)))
	return address, nil
}
