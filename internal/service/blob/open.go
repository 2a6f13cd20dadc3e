package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
)

const (
	BackendS3     = "s3"
	BackendGridFS = "gridfs"
	BackendMemory = "memory"

	GridFSBucket = "images"
)

type OpenOptions struct {
	Backend string
	S3      S3Config
	// DB backs the GridFS bucket.
	DB *mongo.Database
	// GatewayURL is the base of the gateway's /blobs route, used by the
	// backends the gateway serves itself.
	GatewayURL string
}

// Open builds the configured store. The Reader is nil for S3, whose
// addresses point at the bucket directly.
func Open(ctx context.Context, opts OpenOptions) (Store, Reader, error) {
	switch opts.Backend {
	case BackendS3:
		s, err := NewS3Store(ctx, opts.S3)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	case BackendGridFS:
		if opts.DB == nil {
			return nil, nil, errors.New("gridfs backend needs a database")
		}
		s, err := NewGridFSStore(opts.DB, GridFSBucket, opts.GatewayURL)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case BackendMemory:
		m := NewMemory(strings.TrimRight(opts.GatewayURL, "/") + "/blobs")
		return m, m, nil
	default:
		return nil, nil, fmt.Errorf("unknown blob backend %q", opts.Backend)
	}
}
