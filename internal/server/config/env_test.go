package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnv_Variables(t *testing.T) {
	t.Setenv(envFileVar, filepath.Join(t.TempDir(), "none.env"))
	t.Setenv("HTTP_ADDR", ":7000")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("ENCRYPTION_KEY", "enc-from-env")
	t.Setenv("STORAGE_BACKEND", "s3")
	t.Setenv("S3_BUCKET", "phi")
	t.Setenv("MAX_UPLOAD_SIZE", "2048")
	t.Setenv("PRUNE_SUPERSEDED_BLOBS", "false")
	t.Setenv("SWEEP_INTERVAL", "15m")
	t.Setenv("ACCESS_TOKEN_VALIDITY_DURATION", "1h")

	cfg := &Config{}
	cfg.LoadDefaults()
	parseEnv(cfg)

	assert.Equal(t, ":7000", cfg.HTTPAddr)
	assert.Equal(t, "from-env", cfg.SecretKey)
	assert.Equal(t, "enc-from-env", cfg.EncryptionKey)
	assert.Equal(t, StorageS3, cfg.StorageBackend)
	assert.Equal(t, "phi", cfg.S3Bucket)
	assert.Equal(t, int64(2048), cfg.MaxUploadSize)
	assert.False(t, cfg.PruneSupersededBlobs, "retention is opt-in")
	assert.Equal(t, 15*time.Minute, cfg.SweepInterval)
	assert.Equal(t, time.Hour, cfg.AccessTokenValidityDuration)
	assert.Equal(t, ":50051", cfg.GRPCAddr, "unset variables keep current values")
}

func TestParseEnv_DotenvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("UPLOAD_DIR=/data/uploads\nLOG_BACKEND=zerolog\n"), 0o600))
	t.Setenv(envFileVar, path)
	t.Setenv("LOG_BACKEND", "slog")
	t.Cleanup(func() { _ = os.Unsetenv("UPLOAD_DIR") })

	cfg := &Config{}
	parseEnv(cfg)

	assert.Equal(t, "/data/uploads", cfg.UploadDir)
	assert.Equal(t, "slog", cfg.LogBackend, "real environment wins over the dotenv file")
}
