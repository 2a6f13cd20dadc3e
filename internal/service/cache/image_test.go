package cache

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"resident_chat/internal/model"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 3, 2))))
	return buf.Bytes()
}

func TestImageLoader_FetchesAndDecodes(t *testing.T) {
	body := pngBytes(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/ok.png":
			w.Write(body)
		case "/broken.png":
			w.Write([]byte("<html>not an image</html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	l := NewImageLoader(NewHTTPFetcher(srv.Client()))
	ctx := context.Background()

	img, err := l.Get(ctx, srv.URL+"/ok.png")
	require.NoError(t, err)
	assert.Equal(t, "png", img.Format)
	assert.Equal(t, 3, img.Width)
	assert.Equal(t, 2, img.Height)

	_, err = l.Get(ctx, srv.URL+"/broken.png")
	var decodeErr *model.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, Failed, l.Peek(srv.URL+"/broken.png").State)

	_, err = l.Get(ctx, srv.URL+"/missing.png")
	require.Error(t, err)

	_, _ = l.Get(ctx, srv.URL+"/ok.png")
	assert.Equal(t, int32(3), hits.Load())
}

type fakeKV struct {
	data   map[string]string
	getErr error
	sets   int
}

func (f *fakeKV) Get(ctx context.Context, key string) (string, error) {
	if f.getErr != nil {
		return "", f.getErr
	}
	v, ok := f.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (f *fakeKV) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	f.sets++
	f.data[key] = string(value.([]byte))
	return nil
}

type countingFetcher struct {
	calls int
	data  []byte
	err   error
}

func (c *countingFetcher) Fetch(ctx context.Context, address string) ([]byte, error) {
	c.calls++
	return c.data, c.err
}

func TestRedisFetcher_ReadThrough(t *testing.T) {
	kv := &fakeKV{data: map[string]string{}}
	next := &countingFetcher{data: []byte("bytes")}
	f := NewRedisFetcher(next, kv, time.Hour)
	ctx := context.Background()

	got, err := f.Fetch(ctx, "https://cdn/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("bytes"), got)

	got, err = f.Fetch(ctx, "https://cdn/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("bytes"), got)
	assert.Equal(t, 1, next.calls)
	assert.Equal(t, 1, kv.sets)
}

func TestRedisFetcher_RedisDownFallsBack(t *testing.T) {
	kv := &fakeKV{data: map[string]string{}, getErr: errors.New("dial tcp: refused")}
	next := &countingFetcher{data: []byte("bytes")}

	got, err := NewRedisFetcher(next, kv, time.Hour).Fetch(context.Background(), "https://cdn/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("bytes"), got)
	assert.Equal(t, 1, next.calls)
}

func TestDecodeImage_Empty(t *testing.T) {
	_, err := DecodeImage("k", nil)
	var decodeErr *model.DecodeError
	require.ErrorAs(t, err, &decodeErr)
}
