package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"resident_chat/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	// GridFSStore keeps attachments in a mongo GridFS bucket. The gateway
	// serves them under publicBaseURL/blobs/<key>.
	GridFSStore struct {
		bucket        *gridfs.Bucket
		publicBaseURL string
	}

	gridfsMetadata struct {
		ContentType string            `bson:"content_type"`
		Extra       map[string]string `bson:"extra,omitempty"`
	}
)

var (
	_ Store  = (*GridFSStore)(nil)
	_ Reader = (*GridFSStore)(nil)
)

func NewGridFSStore(db *mongo.Database, bucketName, publicBaseURL string) (*GridFSStore, error) {
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName(bucketName))
	if err != nil {
		return nil, err
	}
	return &GridFSStore{bucket: bucket, publicBaseURL: publicBaseURL}, nil
}

func (s *GridFSStore) Put(ctx context.Context, obj *Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	opts := options.GridFSUpload().SetMetadata(gridfsMetadata{
		ContentType: obj.ContentType,
		Extra:       obj.Metadata,
	})
	_, err := s.bucket.UploadFromStream(obj.Key, bytes.NewReader(obj.Data), opts)
	return err
}

func (s *GridFSStore) Resolve(ctx context.Context, key string) (string, error) {
	cursor, err := s.bucket.Find(bson.M{"filename": key})
	if err != nil {
		return "", err
	}
	defer cursor.Close(ctx)

	if !cursor.Next(ctx) {
		if err := cursor.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("object %q: %w", key, model.ErrNotFound)
	}
	return joinURL(s.publicBaseURL, "blobs/"+key), nil
}

func (s *GridFSStore) Open(ctx context.Context, key string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stream, err := s.bucket.OpenDownloadStreamByName(key)
	if errors.Is(err, gridfs.ErrFileNotFound) {
		return nil, fmt.Errorf("object %q: %w", key, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil {
		return nil, err
	}

	obj := &Object{Key: key, Data: data}
	var meta gridfsMetadata
	if raw := stream.GetFile().Metadata; raw != nil {
		if err := bson.Unmarshal(raw, &meta); err == nil {
			obj.ContentType = meta.ContentType
			obj.Metadata = meta.Extra
		}
	}
	return obj, nil
}
