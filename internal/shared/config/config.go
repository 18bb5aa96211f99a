package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBackendTimeout  = 10 * time.Second
	defaultMaxUploadBytes  = 10 << 20
	defaultReconcileGrace  = time.Hour
	defaultExtractMaxChars = 1 << 20
)

// Config holds application configuration.
type Config struct {
	Port               string
	CORSAllowOrigin    []string
	ObjectStoreType    string
	LocalStoreDir      string
	AWSRegion          string
	S3Bucket           string
	S3Prefix           string
	SSEKMSKeyID        string
	GCSBucket          string
	GCSPrefix          string
	SearchBackend      string
	SearchSQLitePath   string
	ElasticsearchURLs  []string
	ElasticsearchIndex string
	DatabaseURL        string
	Env                string
	BackendTimeout     time.Duration
	MaxUploadBytes     int64
	ReconcileGrace     time.Duration
	ExtractMaxChars    int
}

// Load reads configuration from environment variables with sensible defaults.
// Values from the optional CONFIG_FILE are used as defaults beneath the environment.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	file, err := loadFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Printf("config file ignored: %v", err)
	}

	env := normalizeEnv(getEnv("ENV", or(file.Env, "dev")))
	dbURL := getEnv("DATABASE_URL", file.DatabaseURL)

	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	return Config{
		Port:               getEnv("PORT", or(file.Port, "8080")),
		CORSAllowOrigin:    splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", or(strings.Join(file.CORSAllowOrigins, ","), "http://localhost:5173"))),
		ObjectStoreType:    normalizeStoreType(getEnv("OBJECT_STORE", or(file.ObjectStore.Type, "local"))),
		LocalStoreDir:      getEnv("LOCAL_STORE_DIR", or(file.ObjectStore.LocalDir, "./data/objects")),
		AWSRegion:          getEnv("AWS_REGION", file.ObjectStore.AWSRegion),
		S3Bucket:           getEnv("S3_BUCKET", file.ObjectStore.S3Bucket),
		S3Prefix:           getEnv("S3_PREFIX", file.ObjectStore.S3Prefix),
		SSEKMSKeyID:        getEnv("SSE_KMS_KEY_ID", file.ObjectStore.SSEKMSKeyID),
		GCSBucket:          getEnv("GCS_BUCKET", file.ObjectStore.GCSBucket),
		GCSPrefix:          getEnv("GCS_PREFIX", file.ObjectStore.GCSPrefix),
		SearchBackend:      normalizeSearchBackend(getEnv("SEARCH_BACKEND", or(file.Search.Backend, "memory"))),
		SearchSQLitePath:   getEnv("SEARCH_SQLITE_PATH", or(file.Search.SQLitePath, "./data/search.db")),
		ElasticsearchURLs:  splitAndTrim(getEnv("ELASTICSEARCH_URL", or(strings.Join(file.Search.ElasticsearchURLs, ","), "http://localhost:9200"))),
		ElasticsearchIndex: getEnv("ELASTICSEARCH_INDEX", or(file.Search.ElasticsearchIndex, "documents")),
		DatabaseURL:        dbURL,
		Env:                env,
		BackendTimeout:     getDuration("BACKEND_TIMEOUT", file.BackendTimeout, defaultBackendTimeout),
		MaxUploadBytes:     getInt64("MAX_UPLOAD_BYTES", file.MaxUploadBytes, defaultMaxUploadBytes),
		ReconcileGrace:     getDuration("RECONCILE_GRACE", file.ReconcileGrace, defaultReconcileGrace),
		ExtractMaxChars:    int(getInt64("EXTRACT_MAX_CHARS", file.ExtractMaxChars, defaultExtractMaxChars)),
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func or(val, def string) string {
	if strings.TrimSpace(val) != "" {
		return val
	}
	return def
}

func getDuration(key, fileVal string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(getEnv(key, fileVal))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Printf("config %s invalid duration %q, using %s", key, raw, def)
		return def
	}
	return d
}

func getInt64(key string, fileVal int64, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		if fileVal > 0 {
			return fileVal
		}
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		log.Printf("config %s invalid int %q, using %d", key, raw, def)
		return def
	}
	return n
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	case "gcs":
		return "gcs"
	default:
		return "local"
	}
}

func normalizeSearchBackend(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sqlite":
		return "sqlite"
	case "elasticsearch", "elastic", "es":
		return "elasticsearch"
	default:
		return "memory"
	}
}
