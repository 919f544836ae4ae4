package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Record store backends.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreRemote   = "remote"
)

// Artifact store backends.
const (
	ArtifactsMemory = "memory"
	ArtifactsFS     = "fs"
	ArtifactsS3     = "s3"
)

type Config struct {
	Port        string        `mapstructure:"PORT"`
	Env         string        `mapstructure:"ENV"`
	RecordStore string        `mapstructure:"RECORD_STORE"`
	DatabaseURL string        `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32         `mapstructure:"DB_MIN_CONNS"`
	SQLitePath  string        `mapstructure:"SQLITE_PATH"`
	FormsAPIURL string        `mapstructure:"FORMS_API_URL"`
	FormsToken  string        `mapstructure:"FORMS_API_TOKEN"`
	RedisURL    string        `mapstructure:"REDIS_URL"`
	SessionTTL  time.Duration `mapstructure:"SESSION_TTL"`
	CORSOrigins []string      `mapstructure:"CORS_ORIGINS"`

	ArtifactStore string `mapstructure:"ARTIFACT_STORE"`
	ArtifactDir   string `mapstructure:"ARTIFACT_DIR"`
	S3Bucket      string `mapstructure:"S3_BUCKET"`
	S3Region      string `mapstructure:"S3_REGION"`
	S3Endpoint    string `mapstructure:"S3_ENDPOINT"`
	S3PathStyle   bool   `mapstructure:"S3_PATH_STYLE"`

	HIPAAEncryptionKey  string        `mapstructure:"HIPAA_ENCRYPTION_KEY"`
	PseudonymKey        string        `mapstructure:"PSEUDONYM_KEY"`
	DownloadTokenSecret string        `mapstructure:"DOWNLOAD_TOKEN_SECRET"`
	DownloadTokenTTL    time.Duration `mapstructure:"DOWNLOAD_TOKEN_TTL"`
}

var envKeys = []string{
	"PORT", "ENV", "RECORD_STORE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"SQLITE_PATH", "FORMS_API_URL", "FORMS_API_TOKEN", "REDIS_URL", "SESSION_TTL",
	"CORS_ORIGINS", "ARTIFACT_STORE", "ARTIFACT_DIR", "S3_BUCKET", "S3_REGION",
	"S3_ENDPOINT", "S3_PATH_STYLE", "HIPAA_ENCRYPTION_KEY", "PSEUDONYM_KEY",
	"DOWNLOAD_TOKEN_SECRET", "DOWNLOAD_TOKEN_TTL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("RECORD_STORE", StorePostgres)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("SQLITE_PATH", "patientforms.db")
	v.SetDefault("SESSION_TTL", "8h")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("ARTIFACT_STORE", ArtifactsMemory)
	v.SetDefault("ARTIFACT_DIR", "./exports")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("DOWNLOAD_TOKEN_TTL", "15m")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.RecordStore == StorePostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when RECORD_STORE is %q", StorePostgres)
	}

	if cfg.IsDev() {
		log.Warn().Msg("running in DEVELOPMENT mode: ephemeral keys are generated when secrets are unset")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// the pseudonymisation and download-token secrets must be set, since an
// ephemeral key would make pseudonyms unstable across restarts.
func (c *Config) Validate() error {
	switch c.RecordStore {
	case StorePostgres, StoreSQLite:
	case StoreRemote:
		if c.FormsAPIURL == "" {
			return fmt.Errorf("FORMS_API_URL is required when RECORD_STORE is %q", StoreRemote)
		}
	default:
		return fmt.Errorf("RECORD_STORE must be %q, %q or %q, got %q", StorePostgres, StoreSQLite, StoreRemote, c.RecordStore)
	}

	switch c.ArtifactStore {
	case ArtifactsMemory:
	case ArtifactsFS:
		if c.ArtifactDir == "" {
			return fmt.Errorf("ARTIFACT_DIR is required when ARTIFACT_STORE is %q", ArtifactsFS)
		}
	case ArtifactsS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when ARTIFACT_STORE is %q", ArtifactsS3)
		}
	default:
		return fmt.Errorf("ARTIFACT_STORE must be %q, %q or %q, got %q", ArtifactsMemory, ArtifactsFS, ArtifactsS3, c.ArtifactStore)
	}

	if !c.IsDev() {
		if c.PseudonymKey == "" {
			return fmt.Errorf("PSEUDONYM_KEY is required outside development")
		}
		if c.DownloadTokenSecret == "" {
			return fmt.Errorf("DOWNLOAD_TOKEN_SECRET is required outside development")
		}
	}
	if c.IsProduction() && c.HIPAAEncryptionKey == "" {
		return fmt.Errorf("HIPAA_ENCRYPTION_KEY is required in production")
	}
	if c.HIPAAEncryptionKey != "" {
		keyBytes, err := hex.DecodeString(c.HIPAAEncryptionKey)
		if err != nil {
			return fmt.Errorf("HIPAA_ENCRYPTION_KEY is not valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("HIPAA_ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
		}
	}
	if c.DownloadTokenTTL <= 0 {
		return fmt.Errorf("DOWNLOAD_TOKEN_TTL must be positive")
	}
	return nil
}
