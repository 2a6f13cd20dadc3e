// Package blob stores attachment bytes under generated keys and resolves a
// durable address for each stored object.
package blob

import (
	"context"
	"net/url"
	"strings"
)

type (
	Object struct {
		Key         string
		Data        []byte
		ContentType string
		Metadata    map[string]string
	}

	// Store is write-once: callers always put under a fresh key.
	Store interface {
		Put(ctx context.Context, obj *Object) error
		// Resolve returns a fetchable address for key, or an error wrapping
		// model.ErrNotFound when nothing was stored under it.
		Resolve(ctx context.Context, key string) (string, error)
	}

	// Reader is implemented by stores whose objects are served by this
	// process rather than fetched from the backend directly.
	Reader interface {
		Open(ctx context.Context, key string) (*Object, error)
	}
)

func joinURL(base, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(segments, "/")
}
