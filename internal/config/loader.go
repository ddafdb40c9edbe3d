package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const defaultUserAgent = "disk-proxy/1.0"

// Load 读取 .env 文件和环境变量，返回校验过的配置
func Load() (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, err
	}
	cfg := parse()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置无效: %w", err)
	}
	return cfg, nil
}

// loadEnvFiles 按优先级加载 .env 文件，都是可选的
func loadEnvFiles() error {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return fmt.Errorf("无法加载 .env: %w", err)
		}
	}
	// .env.local 用于本地覆盖，优先级最高
	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Overload(".env.local"); err != nil {
			return fmt.Errorf("无法加载 .env.local: %w", err)
		}
	}
	return nil
}

func parse() *Config {
	return &Config{
		Port:     getEnv("PORT", "3000"),
		Provider: getEnv("PROVIDER", ProviderYandex),

		Yandex: YandexConfig{
			PublicFolderURL: getEnv("PUBLIC_FOLDER_URL", ""),
			APIBase:         getEnv("YANDEX_API_BASE", "https://cloud-api.yandex.net"),
		},

		Bucket: BucketConfig{
			Name:      getEnv("BUCKET", ""),
			KeyPrefix: getEnv("KEY_PREFIX", ""),
			LinkTTL:   getDuration("LINK_TTL", 15*time.Minute),
		},

		S3: S3Config{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			Endpoint:        getEnv("S3_ENDPOINT", ""),
		},

		OBS: OBSConfig{
			Endpoint: getEnv("OBS_ENDPOINT", ""),
			AK:       getEnv("OBS_AK", ""),
			SK:       getEnv("OBS_SK", ""),
		},

		HTTP: HTTPConfig{
			MaxRedirects:   getInt("MAX_REDIRECTS", 5),
			ResolveTimeout: getDuration("RESOLVE_TIMEOUT", 15*time.Second),
			HopTimeout:     getDuration("HOP_TIMEOUT", 30*time.Second),
			StreamTimeout:  getDuration("STREAM_TIMEOUT", time.Hour),
			UserAgent:      getEnv("USER_AGENT", defaultUserAgent),
			ChunkSize:      getInt("CHUNK_SIZE", 32*1024),
		},

		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},

		Metrics: MetricsConfig{
			Enabled: getBool("METRICS_ENABLED", true),
		},

		Redis: RedisConfig{
			Addr:         getEnv("REDIS_ADDR", ""),
			Password:     getEnv("REDIS_PASSWORD", ""),
			Stream:       getEnv("TRANSFER_STREAM", "transfer_events"),
			StreamMaxLen: int64(getInt("TRANSFER_STREAM_MAXLEN", 10000)),
		},

		ListLimit:  getInt("LIST_LIMIT", 1000),
		CORSOrigin: getEnv("CORS_ORIGIN", "*"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return i
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

// getDuration 接受 "300ms"、"1.5h" 这样的格式
func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
