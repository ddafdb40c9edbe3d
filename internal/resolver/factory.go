// internal/resolver/factory.go
package resolver

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Slade66/disk-proxy/internal/config"
)

// New 根据 PROVIDER 创建对应的存储后端
func New(ctx context.Context, cfg *config.Config, client HTTPDoer, log zerolog.Logger) (Provider, error) {
	log = log.With().Str("provider", cfg.Provider).Logger()

	switch cfg.Provider {
	case config.ProviderYandex:
		return NewYandex(client, cfg, log), nil
	case config.ProviderS3:
		return NewS3(ctx, cfg, log)
	case config.ProviderOBS:
		return NewOBS(cfg, log)
	default:
		return nil, fmt.Errorf("未知的 PROVIDER: %q", cfg.Provider)
	}
}
