package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// envFileVar names an alternative dotenv file; ".env" is used otherwise.
const envFileVar = "ENV_FILE"

type envBinding struct {
	name  string
	apply func(v *viper.Viper, c *Config, key string)
}

func str(dst func(*Config) *string) func(*viper.Viper, *Config, string) {
	return func(v *viper.Viper, c *Config, key string) { *dst(c) = v.GetString(key) }
}

var envBindings = []envBinding{
	{"HTTP_ADDR", str(func(c *Config) *string { return &c.HTTPAddr })},
	{"GRPC_ADDR", str(func(c *Config) *string { return &c.GRPCAddr })},
	{"DATABASE_DSN", str(func(c *Config) *string { return &c.DatabaseDSN })},
	{"JWT_SECRET", str(func(c *Config) *string { return &c.SecretKey })},
	{"ENCRYPTION_KEY", str(func(c *Config) *string { return &c.EncryptionKey })},
	{"ENCRYPTION_KEY_VAULT_PATH", str(func(c *Config) *string { return &c.EncryptionKeyVaultPath })},
	{"VAULT_ADDR", str(func(c *Config) *string { return &c.VaultAddr })},
	{"VAULT_TOKEN", str(func(c *Config) *string { return &c.VaultToken })},
	{"STORAGE_BACKEND", str(func(c *Config) *string { return &c.StorageBackend })},
	{"UPLOAD_DIR", str(func(c *Config) *string { return &c.UploadDir })},
	{"S3_ROOT_USER", str(func(c *Config) *string { return &c.S3RootUser })},
	{"S3_ROOT_PASSWORD", str(func(c *Config) *string { return &c.S3RootPassword })},
	{"S3_BUCKET", str(func(c *Config) *string { return &c.S3Bucket })},
	{"S3_REGION", str(func(c *Config) *string { return &c.S3Region })},
	{"S3_BASE_ENDPOINT", str(func(c *Config) *string { return &c.S3BaseEndpoint })},
	{"MONGO_URI", str(func(c *Config) *string { return &c.MongoURI })},
	{"MONGO_DATABASE", str(func(c *Config) *string { return &c.MongoDatabase })},
	{"GRIDFS_BUCKET", str(func(c *Config) *string { return &c.GridFSBucket })},
	{"LOG_BACKEND", str(func(c *Config) *string { return &c.LogBackend })},
	{"ACCESS_TOKEN_VALIDITY_DURATION", func(v *viper.Viper, c *Config, key string) {
		c.AccessTokenValidityDuration = v.GetDuration(key)
	}},
	{"MAX_UPLOAD_SIZE", func(v *viper.Viper, c *Config, key string) { c.MaxUploadSize = v.GetInt64(key) }},
	{"PRUNE_SUPERSEDED_BLOBS", func(v *viper.Viper, c *Config, key string) { c.PruneSupersededBlobs = v.GetBool(key) }},
	{"SWEEP_INTERVAL", func(v *viper.Viper, c *Config, key string) { c.SweepInterval = v.GetDuration(key) }},
	{"SWEEP_GRACE_PERIOD", func(v *viper.Viper, c *Config, key string) { c.SweepGracePeriod = v.GetDuration(key) }},
}

// parseEnv overlays values from the process environment. A dotenv file is
// loaded first when present; it never overrides variables already set.
func parseEnv(config *Config) {
	envFile := os.Getenv(envFileVar)
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)

	v := viper.New()
	for _, b := range envBindings {
		_ = v.BindEnv(b.name)
		if v.IsSet(b.name) {
			b.apply(v, config, b.name)
		}
	}
}
