package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// fileConfig mirrors the optional TOML config file. Every field is optional;
// environment variables take precedence over anything set here.
type fileConfig struct {
	Env              string   `toml:"env"`
	Port             string   `toml:"port"`
	DatabaseURL      string   `toml:"database_url"`
	CORSAllowOrigins []string `toml:"cors_allow_origins"`
	BackendTimeout   string   `toml:"backend_timeout"`
	MaxUploadBytes   int64    `toml:"max_upload_bytes"`
	ReconcileGrace   string   `toml:"reconcile_grace"`
	ExtractMaxChars  int64    `toml:"extract_max_chars"`

	ObjectStore struct {
		Type        string `toml:"type"`
		LocalDir    string `toml:"local_dir"`
		AWSRegion   string `toml:"aws_region"`
		S3Bucket    string `toml:"s3_bucket"`
		S3Prefix    string `toml:"s3_prefix"`
		SSEKMSKeyID string `toml:"sse_kms_key_id"`
		GCSBucket   string `toml:"gcs_bucket"`
		GCSPrefix   string `toml:"gcs_prefix"`
	} `toml:"object_store"`

	Search struct {
		Backend            string   `toml:"backend"`
		SQLitePath         string   `toml:"sqlite_path"`
		ElasticsearchURLs  []string `toml:"elasticsearch_urls"`
		ElasticsearchIndex string   `toml:"elasticsearch_index"`
	} `toml:"search"`
}

func loadFile(path string) (fileConfig, error) {
	var fc fileConfig
	path = strings.TrimSpace(path)
	if path == "" {
		return fc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fileConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return fc, nil
}
