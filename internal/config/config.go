package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends selectable with STORE.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	ServerAddr  string
	Store       string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string
	RedisURL    string
	WorkerCount int

	// MinIO serves reads, the S3 client writes uploads.
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	S3Region       string
	S3Endpoint     string
	S3UsePathStyle bool

	JWT JWTConfig

	BcryptCost        int
	LogLevel          string
	LogDev            bool
	CORSOrigins       []string
	AuthRatePerMinute int
	AuthRateBurst     int
	EventCacheTTL     time.Duration
}

// JWTConfig is everything the token issuer needs. It is read once at startup.
type JWTConfig struct {
	Secret               string
	Issuer               string
	Audience             string
	AccessTokenLifetime  time.Duration
	RefreshTokenLifetime time.Duration
	RoleUser             string
	RoleBusinessClient   string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_addr", ":8080")
	v.SetDefault("store", StorePostgres)
	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", "5432")
	v.SetDefault("db_user", "gatherly")
	v.SetDefault("db_password", "gatherly_dev_password")
	v.SetDefault("db_name", "gatherly")
	v.SetDefault("db_sslmode", "disable")
	v.SetDefault("redis_url", "")
	v.SetDefault("worker_count", 3)
	v.SetDefault("minio_endpoint", "")
	v.SetDefault("minio_access_key", "minioadmin")
	v.SetDefault("minio_secret_key", "minioadmin")
	v.SetDefault("minio_bucket", "gatherly-images")
	v.SetDefault("minio_use_ssl", false)
	v.SetDefault("s3_region", "us-east-1")
	v.SetDefault("s3_endpoint", "")
	v.SetDefault("s3_use_path_style", true)
	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_issuer", "")
	v.SetDefault("jwt_audience", "")
	v.SetDefault("access_token_minutes", 15)
	v.SetDefault("refresh_token_days", 7)
	v.SetDefault("role_user", "User")
	v.SetDefault("role_business_client", "BusinessClient")
	v.SetDefault("bcrypt_cost", 12)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_dev", false)
	v.SetDefault("cors_origins", "*")
	v.SetDefault("auth_rate_per_minute", 30)
	v.SetDefault("auth_rate_burst", 10)
	v.SetDefault("event_cache_ttl", "5m")
}

// Load reads configuration from the environment and, when CONFIG_FILE is
// set, from that file. Environment variables win over the file.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) *Config {
	workerCount := v.GetInt("worker_count")
	if workerCount <= 0 {
		workerCount = 3
	}

	return &Config{
		ServerAddr:     v.GetString("server_addr"),
		Store:          strings.ToLower(v.GetString("store")),
		DBHost:         v.GetString("db_host"),
		DBPort:         v.GetString("db_port"),
		DBUser:         v.GetString("db_user"),
		DBPassword:     v.GetString("db_password"),
		DBName:         v.GetString("db_name"),
		DBSSLMode:      v.GetString("db_sslmode"),
		RedisURL:       v.GetString("redis_url"),
		WorkerCount:    workerCount,
		MinioEndpoint:  v.GetString("minio_endpoint"),
		MinioAccessKey: v.GetString("minio_access_key"),
		MinioSecretKey: v.GetString("minio_secret_key"),
		MinioBucket:    v.GetString("minio_bucket"),
		MinioUseSSL:    v.GetBool("minio_use_ssl"),
		S3Region:       v.GetString("s3_region"),
		S3Endpoint:     v.GetString("s3_endpoint"),
		S3UsePathStyle: v.GetBool("s3_use_path_style"),
		JWT: JWTConfig{
			Secret:               v.GetString("jwt_secret"),
			Issuer:               v.GetString("jwt_issuer"),
			Audience:             v.GetString("jwt_audience"),
			AccessTokenLifetime:  time.Duration(v.GetInt("access_token_minutes")) * time.Minute,
			RefreshTokenLifetime: time.Duration(v.GetInt("refresh_token_days")) * 24 * time.Hour,
			RoleUser:             v.GetString("role_user"),
			RoleBusinessClient:   v.GetString("role_business_client"),
		},
		BcryptCost:        v.GetInt("bcrypt_cost"),
		LogLevel:          v.GetString("log_level"),
		LogDev:            v.GetBool("log_dev"),
		CORSOrigins:       splitList(v.GetString("cors_origins")),
		AuthRatePerMinute: v.GetInt("auth_rate_per_minute"),
		AuthRateBurst:     v.GetInt("auth_rate_burst"),
		EventCacheTTL:     v.GetDuration("event_cache_ttl"),
	}
}

// Validate rejects configurations the server must not start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Store != StorePostgres && c.Store != StoreMemory {
		errs = append(errs, fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store))
	}
	if err := c.JWT.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.BcryptCost))
	}
	if c.AuthRatePerMinute <= 0 || c.AuthRateBurst <= 0 {
		errs = append(errs, errors.New("AUTH_RATE_PER_MINUTE and AUTH_RATE_BURST must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Validate checks the token settings.
func (j JWTConfig) Validate() error {
	var errs []error
	if j.Secret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if j.Issuer == "" {
		errs = append(errs, errors.New("JWT_ISSUER is required"))
	}
	if j.Audience == "" {
		errs = append(errs, errors.New("JWT_AUDIENCE is required"))
	}
	if j.AccessTokenLifetime <= 0 {
		errs = append(errs, errors.New("ACCESS_TOKEN_MINUTES must be positive"))
	}
	if j.RefreshTokenLifetime <= 0 {
		errs = append(errs, errors.New("REFRESH_TOKEN_DAYS must be positive"))
	}
	if j.RoleUser == "" || j.RoleBusinessClient == "" {
		errs = append(errs, errors.New("role names must not be empty"))
	} else if j.RoleUser == j.RoleBusinessClient {
		errs = append(errs, errors.New("ROLE_USER and ROLE_BUSINESS_CLIENT must differ"))
	}
	return errors.Join(errs...)
}

// DatabaseDSN builds the lib/pq connection string.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
