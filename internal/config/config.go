package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	JWT        JWTConfig
	RateLimit  RateLimitConfig
	Generation GenerationConfig
	Pipeline   PipelineConfig
	R2         R2Config
	Gateway    GatewayConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	PipelineStartsPerHour int
}

type GenerationConfig struct {
	APIKey         string
	BaseURL        string
	ImageModel     string
	AspectRatio    string
	MaxAttempts    int
	RetryBaseDelay time.Duration
	Timeout        time.Duration
}

type PipelineConfig struct {
	Concurrency    int
	PollInterval   time.Duration
	VideoTimeout   time.Duration
	ReviewTimeout  time.Duration
	CandidateCount int
	MediaDir       string
	TaskTimeout    time.Duration
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type GatewayConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("GENERATION_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()

	bindings := map[string]string{
		"server.port":                 "SERVER_PORT",
		"server.env":                  "SERVER_ENV",
		"server.log_level":            "LOG_LEVEL",
		"redis.addr":                  "REDIS_ADDR",
		"redis.password":              "REDIS_PASSWORD",
		"redis.db":                    "REDIS_DB",
		"jwt.secret":                  "JWT_SECRET",
		"jwt.expiration":              "JWT_EXPIRATION",
		"ratelimit.pipeline_per_hour": "RATELIMIT_PIPELINE_PER_HOUR",
		"generation.api_key":          "GENERATION_API_KEY",
		"generation.base_url":         "GENERATION_BASE_URL",
		"generation.image_model":      "GENERATION_IMAGE_MODEL",
		"generation.aspect_ratio":     "GENERATION_ASPECT_RATIO",
		"generation.max_attempts":     "GENERATION_MAX_ATTEMPTS",
		"generation.retry_base_ms":    "GENERATION_RETRY_BASE_MS",
		"generation.timeout_sec":      "GENERATION_TIMEOUT_SEC",
		"pipeline.concurrency":        "PIPELINE_CONCURRENCY",
		"pipeline.poll_interval_sec":  "PIPELINE_POLL_INTERVAL_SEC",
		"pipeline.video_timeout_min":  "PIPELINE_VIDEO_TIMEOUT_MIN",
		"pipeline.review_timeout_min": "PIPELINE_REVIEW_TIMEOUT_MIN",
		"pipeline.candidate_count":    "PIPELINE_CANDIDATE_COUNT",
		"pipeline.media_dir":          "PIPELINE_MEDIA_DIR",
		"pipeline.task_timeout_min":   "PIPELINE_TASK_TIMEOUT_MIN",
		"r2.account_id":               "R2_ACCOUNT_ID",
		"r2.access_key_id":            "R2_ACCESS_KEY_ID",
		"r2.secret_access_key":        "R2_SECRET_ACCESS_KEY",
		"r2.bucket_name":              "R2_BUCKET_NAME",
		"r2.public_url":               "R2_PUBLIC_URL",
		"gateway.enabled":             "GATEWAY_ENABLED",
	}
	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.expiration", 24)
	v.SetDefault("ratelimit.pipeline_per_hour", 20)

	// Generation API defaults
	v.SetDefault("generation.base_url", "https://api.generation.local")
	v.SetDefault("generation.image_model", "imagen-4")
	v.SetDefault("generation.aspect_ratio", "9:16")
	v.SetDefault("generation.max_attempts", 4)
	v.SetDefault("generation.retry_base_ms", 500)
	v.SetDefault("generation.timeout_sec", 120)

	// Pipeline defaults
	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("pipeline.poll_interval_sec", 5)
	v.SetDefault("pipeline.video_timeout_min", 10)
	v.SetDefault("pipeline.review_timeout_min", 10)
	v.SetDefault("pipeline.candidate_count", 4)
	v.SetDefault("pipeline.media_dir", "./data/media")
	v.SetDefault("pipeline.task_timeout_min", 120)

	v.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     v.GetString("server.port"),
			Env:      v.GetString("server.env"),
			LogLevel: v.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     v.GetString("jwt.secret"),
			Expiration: v.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			PipelineStartsPerHour: v.GetInt("ratelimit.pipeline_per_hour"),
		},
		Generation: GenerationConfig{
			APIKey:         v.GetString("generation.api_key"),
			BaseURL:        v.GetString("generation.base_url"),
			ImageModel:     v.GetString("generation.image_model"),
			AspectRatio:    v.GetString("generation.aspect_ratio"),
			MaxAttempts:    v.GetInt("generation.max_attempts"),
			RetryBaseDelay: time.Duration(v.GetInt("generation.retry_base_ms")) * time.Millisecond,
			Timeout:        time.Duration(v.GetInt("generation.timeout_sec")) * time.Second,
		},
		Pipeline: PipelineConfig{
			Concurrency:    v.GetInt("pipeline.concurrency"),
			PollInterval:   time.Duration(v.GetInt("pipeline.poll_interval_sec")) * time.Second,
			VideoTimeout:   time.Duration(v.GetInt("pipeline.video_timeout_min")) * time.Minute,
			ReviewTimeout:  time.Duration(v.GetInt("pipeline.review_timeout_min")) * time.Minute,
			CandidateCount: v.GetInt("pipeline.candidate_count"),
			MediaDir:       v.GetString("pipeline.media_dir"),
			TaskTimeout:    time.Duration(v.GetInt("pipeline.task_timeout_min")) * time.Minute,
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
		Gateway: GatewayConfig{
			Enabled: v.GetBool("gateway.enabled"),
		},
	}

	return cfg, nil
}
