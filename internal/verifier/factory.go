package verifier

import (
	"fmt"
	"os"

	"newswave/internal/config"
	"newswave/internal/nw"
)

// NewVerifierFromConfig creates a ContentVerifier implementation based on the verifier config type.
func NewVerifierFromConfig(cfg config.VerifierConfig) (nw.ContentVerifier, error) {
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}

	switch cfg.Type {
	case "static":
		v, err := NewStaticVerifier(cfg.StaticScore)
		if err != nil {
			return nil, err
		}
		return v, nil
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("url required for http verifier")
		}
		return NewHTTPVerifier(cfg.URL, apiKey, cfg.RateLimit, nil), nil
	case "openai":
		if cfg.APIKeyEnv == "" {
			return nil, fmt.Errorf("api_key_env required for openai verifier")
		}
		v, err := NewOpenAIVerifier(cfg.URL, apiKey, cfg.Model, cfg.RateLimit, nil)
		if err != nil {
			return nil, fmt.Errorf("%w (is %s set?)", err, cfg.APIKeyEnv)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown verifier type: %s", cfg.Type)
	}
}
