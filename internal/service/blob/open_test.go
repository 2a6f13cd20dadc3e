package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_Memory(t *testing.T) {
	ctx := context.Background()
	store, reader, err := Open(ctx, OpenOptions{Backend: BackendMemory, GatewayURL: "http://localhost:9090/"})
	require.NoError(t, err)
	require.NotNil(t, reader)

	require.NoError(t, store.Put(ctx, &Object{Key: "images/a.jpg", Data: []byte("x")}))
	addr, err := store.Resolve(ctx, "images/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9090/blobs/images/a.jpg", addr)

	obj, err := reader.Open(ctx, "images/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), obj.Data)
}

func TestOpen_Errors(t *testing.T) {
	_, _, err := Open(context.Background(), OpenOptions{Backend: "ftp"})
	assert.Error(t, err)

	_, _, err = Open(context.Background(), OpenOptions{Backend: BackendGridFS})
	assert.Error(t, err)
}
