package identity

import (
	"fmt"

	"newswave/internal/config"
	"newswave/internal/nw"
)

// NewProviderFromConfig creates an IdentityProvider based on the identity config type.
func NewProviderFromConfig(cfg config.IdentityConfig) (nw.IdentityProvider, error) {
	switch cfg.Type {
	case "static":
		return NewStaticProvider(cfg.Address), nil
	case "keyfile":
		if cfg.KeyFile == "" {
			return nil, fmt.Errorf("key_file required for keyfile identity")
		}
		return NewKeyFileProvider(cfg.KeyFile), nil
	default:
		return nil, fmt.Errorf("unknown identity type: %s", cfg.Type)
	}
}
