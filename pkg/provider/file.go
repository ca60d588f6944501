package provider

import (
	"encoding/json"
	"fmt"
	"os"
)

// fileConfig mirrors AuthProvider but accepts the client secret from disk.
// AuthProvider itself never serializes secrets back out.
type fileConfig struct {
	AuthProvider
	OIDCSecret string `json:"oidc_client_secret,omitempty"`
}

// LoadFile reads provider configurations from a JSON file
func LoadFile(path string) ([]*AuthProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider config: %w", err)
	}

	var raw []fileConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse provider config: %w", err)
	}

	providers := make([]*AuthProvider, 0, len(raw))
	for i := range raw {
		p := raw[i].AuthProvider
		if p.OIDC != nil && raw[i].OIDCSecret != "" {
			p.OIDC.ClientSecret = raw[i].OIDCSecret
		}
		providers = append(providers, &p)
	}

	return providers, nil
}
