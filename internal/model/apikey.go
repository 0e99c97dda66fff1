package model

import (
	"strings"
	"time"
)

// APIKeyRecord holds one AI provider's credential. At most one record exists
// per provider. Secret is stored encrypted; the decrypted value never leaves
// the server boundary. FromEnv marks a read-only record sourced from an
// environment variable when no database record exists for the provider.
type APIKeyRecord struct {
	Provider   string     `json:"provider"`
	Secret     string     `json:"-"` // encrypted at rest
	Model      string     `json:"model,omitempty"`
	Enabled    bool       `json:"enabled"`
	FromEnv    bool       `json:"from_env,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// MaskAPIKey returns a display-safe rendering of a plaintext key: first four
// and last four characters with the middle elided. Short keys are fully masked.
func MaskAPIKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + "..." + key[len(key)-4:]
}
