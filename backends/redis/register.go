package redis

import (
	"github.com/OpenFluxGate/fluxgate/backends"
)

func init() {
	backends.Register("redis", func(config any) (backends.Provider, error) {
		redisConfig, ok := config.(Config)
		if !ok {
			return nil, backends.ErrInvalidConfig
		}
		if redisConfig.URI == "" {
			return nil, backends.ErrInvalidConfig
		}
		return New(redisConfig)
	})
}
