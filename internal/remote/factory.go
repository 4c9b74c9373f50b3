package remote

import (
	"fmt"

	"github.com/ashwinyue/next-sync/internal/config"
)

// Provider 远程存储类型
const (
	ProviderMeili   = "meili"
	ProviderElastic = "elastic"
)

// NewFactory 根据配置选择远程存储实现
func NewFactory(cfg config.RemoteConfig) (Factory, error) {
	switch cfg.Provider {
	case ProviderMeili, "":
		return MeiliFactory(cfg.Meili.Host), nil
	case ProviderElastic:
		if len(cfg.Elastic.Addresses) == 0 {
			return nil, fmt.Errorf("elastic provider requires at least one address")
		}
		return ElasticFactory(cfg.Elastic.Addresses, cfg.Elastic.Username), nil
	default:
		return nil, fmt.Errorf("unsupported remote provider: %s", cfg.Provider)
	}
}
