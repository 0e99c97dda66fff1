// Package ai dispatches completion requests across multiple model providers
// behind one interface. Provider credentials resolve from the store first
// and fall back to environment variables.
package ai

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/relaycrm/enrich-core/internal/model"
	"github.com/relaycrm/enrich-core/internal/secret"
	"github.com/relaycrm/enrich-core/internal/store"
)

// ErrNoAPIKey is returned when a provider has no usable credential.
var ErrNoAPIKey = eris.New("ai: no api key configured")

// ErrProviderDisabled is returned when the stored key exists but is disabled.
var ErrProviderDisabled = eris.New("ai: provider disabled")

// envVarByProvider maps each provider to its conventional environment
// variable, the read-only fallback when no key is stored.
var envVarByProvider = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"gemini":    "GEMINI_API_KEY",
	"grok":      "XAI_API_KEY",
	"deepseek":  "DEEPSEEK_API_KEY",
}

// Providers lists every provider the service can dispatch to.
func Providers() []string {
	return []string{"openai", "anthropic", "gemini", "grok", "deepseek"}
}

// KeyResolver resolves provider credentials. Stored keys are encrypted at
// rest; environment keys pass through untouched and are never persisted.
type KeyResolver struct {
	store store.Store
	enc   *secret.Encryptor
}

// NewKeyResolver creates a KeyResolver. enc may be nil, in which case stored
// secrets are treated as plaintext (useful for tests and local setups).
func NewKeyResolver(st store.Store, enc *secret.Encryptor) *KeyResolver {
	return &KeyResolver{store: st, enc: enc}
}

// Resolve returns the credential record for a provider. Store lookup wins
// over the environment; a disabled stored key blocks the provider entirely
// rather than silently falling back.
func (r *KeyResolver) Resolve(ctx context.Context, provider string) (*model.APIKeyRecord, error) {
	rec, err := r.store.GetAPIKey(ctx, provider)
	switch {
	case err == nil:
		if !rec.Enabled {
			return nil, eris.Wrapf(ErrProviderDisabled, "%s", provider)
		}
		if r.enc != nil {
			plain, derr := r.enc.Decrypt(rec.Secret)
			if derr != nil {
				return nil, eris.Wrapf(derr, "ai: decrypt key for %s", provider)
			}
			rec.Secret = plain
		}
		return rec, nil
	case eris.Is(err, store.ErrNotFound):
		return r.fromEnv(provider)
	default:
		return nil, eris.Wrapf(err, "ai: load key for %s", provider)
	}
}

func (r *KeyResolver) fromEnv(provider string) (*model.APIKeyRecord, error) {
	envVar, ok := envVarByProvider[provider]
	if !ok {
		return nil, eris.Wrapf(ErrNoAPIKey, "unknown provider %s", provider)
	}
	key := os.Getenv(envVar)
	if key == "" {
		return nil, eris.Wrapf(ErrNoAPIKey, "%s (set %s)", provider, envVar)
	}
	return &model.APIKeyRecord{
		Provider: provider,
		Secret:   key,
		Enabled:  true,
		FromEnv:  true,
	}, nil
}

// Save encrypts and stores a provider key.
func (r *KeyResolver) Save(ctx context.Context, provider, apiKey, modelName string, enabled bool) error {
	sealed := apiKey
	if r.enc != nil {
		var err error
		sealed, err = r.enc.Encrypt(apiKey)
		if err != nil {
			return eris.Wrapf(err, "ai: encrypt key for %s", provider)
		}
	}
	rec := &model.APIKeyRecord{
		Provider: provider,
		Secret:   sealed,
		Model:    modelName,
		Enabled:  enabled,
	}
	if err := r.store.UpsertAPIKey(ctx, rec); err != nil {
		return err
	}
	zap.L().Info("api key saved",
		zap.String("provider", provider),
		zap.String("key", model.MaskAPIKey(apiKey)))
	return nil
}

// MarkUsed records that a stored key was used. Environment keys are skipped;
// there is no row to update.
func (r *KeyResolver) MarkUsed(ctx context.Context, rec *model.APIKeyRecord) {
	if rec.FromEnv {
		return
	}
	if err := r.store.TouchAPIKey(ctx, rec.Provider, time.Now().UTC()); err != nil {
		zap.L().Warn("ai: touch api key failed", zap.String("provider", rec.Provider), zap.Error(err))
	}
}
