package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, data map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.json")
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("server", nil)
	require.NoError(t, err)

	assert.Equal(t, "mongodb://localhost:27017", c.MongoURI)
	assert.Equal(t, "mydb", c.MongoDatabase)
	assert.Equal(t, "localhost:6379", c.RedisAddr)
	assert.Equal(t, "localhost:9090", c.HTTPAddr)
	assert.Equal(t, BlobGridFS, c.BlobBackend)
	assert.Equal(t, 80, c.ImageQuality)
	assert.Equal(t, 1<<20, c.MaxImageBytes)
	assert.Equal(t, 1600, c.MaxImageDimension)
	assert.Zero(t, c.CacheMaxEntries)
	assert.Equal(t, 30*time.Second, c.ReconcileInterval)
	assert.Empty(t, c.Args)
}

func TestLoad_FileThenFlags(t *testing.T) {
	path := writeTempJSON(t, map[string]any{
		"mongo_uri":          "mongodb://mongo:27017/?replicaSet=rs0",
		"blob_backend":       "s3",
		"s3_bucket":          "chat",
		"s3_presign_ttl":     "2h",
		"image_quality":      70,
		"reconcile_interval": "1m",
		"fetch_timeout":      int64(5 * time.Second),
	})

	c, err := Load("server", []string{"-config", path, "-image-quality", "90", "-blob=s3", "alice"})
	require.NoError(t, err)

	assert.Equal(t, "mongodb://mongo:27017/?replicaSet=rs0", c.MongoURI)
	assert.Equal(t, "mydb", c.MongoDatabase)
	assert.Equal(t, BlobS3, c.BlobBackend)
	assert.Equal(t, "chat", c.S3Bucket)
	assert.Equal(t, 2*time.Hour, c.S3PresignTTL)
	assert.Equal(t, 90, c.ImageQuality)
	assert.Equal(t, time.Minute, c.ReconcileInterval)
	assert.Equal(t, 5*time.Second, c.FetchTimeout)
	assert.Equal(t, time.Hour, c.ImageCacheTTL)
	assert.Equal(t, []string{"alice"}, c.Args)
}

func TestLoad_ShortConfigFlag(t *testing.T) {
	path := writeTempJSON(t, map[string]any{"redis_addr": "redis:6379", "log_json": true})

	c, err := Load("client", []string{"-c=" + path})
	require.NoError(t, err)
	assert.Equal(t, "redis:6379", c.RedisAddr)
	assert.True(t, c.LogJSON)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "unknown flag", args: []string{"-nope"}},
		{name: "bad backend", args: []string{"-blob", "ftp"}},
		{name: "quality out of range", args: []string{"-image-quality", "0"}},
		{name: "presign too long", args: []string{"-blob", "s3", "-s3-presign-ttl", "200h"}},
		{name: "missing file", args: []string{"-c", filepath.Join(os.TempDir(), "does-not-exist.json")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load("server", tt.args)
			assert.Error(t, err)
		})
	}
}

func TestLoad_MemoryBlobsAreGatewayOnly(t *testing.T) {
	_, err := Load(Client, []string{"-blob", BlobMemory, "alice"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway only")

	path := filepath.Join(t.TempDir(), "cfg.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"blob_backend": "memory"}`), 0o600))
	_, err = Load(Client, []string{"-c", path, "alice"})
	assert.Error(t, err)

	cfg, err := Load(Server, []string{"-blob", BlobMemory})
	require.NoError(t, err)
	assert.Equal(t, BlobMemory, cfg.BlobBackend)

	cfg, err = Load(Client, []string{"-blob", BlobGridFS, "alice"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, cfg.Args)
}

func TestLoad_BadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"reconcile_interval": "soon"}`), 0o600))

	_, err := Load("server", []string{"-c", path})
	assert.Error(t, err)
}

func TestConfigFile(t *testing.T) {
	assert.Equal(t, "", configFile([]string{"-addr", ":1"}))
	assert.Equal(t, "a.json", configFile([]string{"-c", "a.json"}))
	assert.Equal(t, "b.json", configFile([]string{"--config=b.json"}))
	assert.Equal(t, "", configFile([]string{"--", "-c", "a.json"}))
}
