package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/telehealth/internal/flagx"
	"github.com/dmitrijs2005/telehealth/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk shape of the configuration. Durations accept
// either strings such as "1m" or integer nanoseconds. Pointer fields
// distinguish "absent" from "false".
type FileConfig struct {
	HTTPAddr                    string         `json:"http_addr" yaml:"http_addr"`
	GRPCAddr                    string         `json:"grpc_addr" yaml:"grpc_addr"`
	DatabaseDSN                 string         `json:"database_dsn" yaml:"database_dsn"`
	SecretKey                   string         `json:"secret_key" yaml:"secret_key"`
	AccessTokenValidityDuration timex.Duration `json:"access_token_validity_duration" yaml:"access_token_validity_duration"`
	EncryptionKey               string         `json:"encryption_key" yaml:"encryption_key"`
	EncryptionKeyVaultPath      string         `json:"encryption_key_vault_path" yaml:"encryption_key_vault_path"`
	VaultAddr                   string         `json:"vault_addr" yaml:"vault_addr"`
	StorageBackend              string         `json:"storage_backend" yaml:"storage_backend"`
	UploadDir                   string         `json:"upload_dir" yaml:"upload_dir"`
	S3RootUser                  string         `json:"s3_root_user" yaml:"s3_root_user"`
	S3RootPassword              string         `json:"s3_root_password" yaml:"s3_root_password"`
	S3Bucket                    string         `json:"s3_bucket" yaml:"s3_bucket"`
	S3Region                    string         `json:"s3_region" yaml:"s3_region"`
	S3BaseEndpoint              string         `json:"s3_base_endpoint" yaml:"s3_base_endpoint"`
	MongoURI                    string         `json:"mongo_uri" yaml:"mongo_uri"`
	MongoDatabase               string         `json:"mongo_database" yaml:"mongo_database"`
	GridFSBucket                string         `json:"gridfs_bucket" yaml:"gridfs_bucket"`
	MaxUploadSize               int64          `json:"max_upload_size" yaml:"max_upload_size"`
	PruneSupersededBlobs        *bool          `json:"prune_superseded_blobs" yaml:"prune_superseded_blobs"`
	SweepInterval               timex.Duration `json:"sweep_interval" yaml:"sweep_interval"`
	SweepGracePeriod            timex.Duration `json:"sweep_grace_period" yaml:"sweep_grace_period"`
	LogBackend                  string         `json:"log_backend" yaml:"log_backend"`
}

// parseFile overlays values from the file named by -c/-config. The format
// is chosen by extension: .yaml/.yml is YAML, anything else JSON. Only
// fields present in the file replace current values. An unreadable or
// malformed file panics.
func parseFile(config *Config) {
	path := flagx.ConfigFileFlag()
	if path == "" {
		return
	}

	b, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &FileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, c)
	default:
		err = json.Unmarshal(b, c)
	}
	if err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *FileConfig) apply(config *Config) {
	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.GRPCAddr, c.GRPCAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.EncryptionKey, c.EncryptionKey)
	setString(&config.EncryptionKeyVaultPath, c.EncryptionKeyVaultPath)
	setString(&config.VaultAddr, c.VaultAddr)
	setString(&config.StorageBackend, c.StorageBackend)
	setString(&config.UploadDir, c.UploadDir)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.MongoURI, c.MongoURI)
	setString(&config.MongoDatabase, c.MongoDatabase)
	setString(&config.GridFSBucket, c.GridFSBucket)
	setString(&config.LogBackend, c.LogBackend)

	if c.AccessTokenValidityDuration.Duration != 0 {
		config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	}
	if c.SweepInterval.Duration != 0 {
		config.SweepInterval = c.SweepInterval.Duration
	}
	if c.SweepGracePeriod.Duration != 0 {
		config.SweepGracePeriod = c.SweepGracePeriod.Duration
	}
	if c.MaxUploadSize != 0 {
		config.MaxUploadSize = c.MaxUploadSize
	}
	if c.PruneSupersededBlobs != nil {
		config.PruneSupersededBlobs = *c.PruneSupersededBlobs
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
