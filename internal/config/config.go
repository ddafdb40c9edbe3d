// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	ProviderYandex = "yandex"
	ProviderS3     = "s3"
	ProviderOBS    = "obs"
)

// Config 是进程级的只读配置，启动时构建一次，之后显式传给各个组件
type Config struct {
	Port     string
	Provider string

	Yandex  YandexConfig
	Bucket  BucketConfig
	S3      S3Config
	OBS     OBSConfig
	HTTP    HTTPConfig
	Log     LogConfig
	Metrics MetricsConfig
	Redis   RedisConfig

	// ListLimit 是 /list 最多返回的文件数，所有存储共用
	ListLimit int

	CORSOrigin string
}

// YandexConfig 公共文件夹和 API 地址
type YandexConfig struct {
	PublicFolderURL string
	APIBase         string
}

// BucketConfig 对象存储（s3、obs）共用的桶配置
type BucketConfig struct {
	Name      string
	KeyPrefix string
	LinkTTL   time.Duration
}

type S3Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
}

type OBSConfig struct {
	Endpoint string
	AK       string
	SK       string
}

// HTTPConfig 上游请求相关的超时和限制
type HTTPConfig struct {
	MaxRedirects   int
	ResolveTimeout time.Duration
	HopTimeout     time.Duration
	StreamTimeout  time.Duration
	UserAgent      string
	ChunkSize      int
}

type LogConfig struct {
	Level  string
	Format string
}

type MetricsConfig struct {
	Enabled bool
}

// RedisConfig Addr 为空时不发布传输事件
type RedisConfig struct {
	Addr         string
	Password     string
	Stream       string
	StreamMaxLen int64
}

// Enabled 报告是否配置了 Redis
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// Addr 返回 HTTP 服务监听地址
func (c *Config) Addr() string {
	return ":" + c.Port
}

// Validate 检查配置的完整性
func (c *Config) Validate() error {
	var errs []error

	if c.Port == "" {
		errs = append(errs, errors.New("PORT 不能为空"))
	}

	switch c.Provider {
	case ProviderYandex:
		if c.Yandex.PublicFolderURL == "" {
			errs = append(errs, errors.New("PUBLIC_FOLDER_URL 不能为空"))
		}
		if _, err := url.ParseRequestURI(c.Yandex.APIBase); err != nil {
			errs = append(errs, fmt.Errorf("YANDEX_API_BASE 无效: %w", err))
		}
	case ProviderS3:
		if c.Bucket.Name == "" {
			errs = append(errs, errors.New("BUCKET 不能为空"))
		}
	case ProviderOBS:
		if c.Bucket.Name == "" || c.OBS.Endpoint == "" || c.OBS.AK == "" || c.OBS.SK == "" {
			errs = append(errs, errors.New("OBS 配置不完整，请检查 BUCKET, OBS_ENDPOINT, OBS_AK, OBS_SK"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的 PROVIDER: %q", c.Provider))
	}

	if c.Provider != ProviderYandex && c.Bucket.LinkTTL <= 0 {
		errs = append(errs, errors.New("LINK_TTL 必须大于 0"))
	}
	if c.HTTP.MaxRedirects < 0 {
		errs = append(errs, errors.New("MAX_REDIRECTS 不能为负数"))
	}
	if c.HTTP.ResolveTimeout <= 0 || c.HTTP.HopTimeout <= 0 || c.HTTP.StreamTimeout <= 0 {
		errs = append(errs, errors.New("超时时间必须大于 0"))
	}
	if c.HTTP.ChunkSize <= 0 {
		errs = append(errs, errors.New("CHUNK_SIZE 必须大于 0"))
	}
	if c.Redis.Enabled() && strings.TrimSpace(c.Redis.Stream) == "" {
		errs = append(errs, errors.New("TRANSFER_STREAM 不能为空"))
	}

	return errors.Join(errs...)
}
