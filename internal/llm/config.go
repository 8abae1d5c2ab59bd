// Package llm provides the Gemini client used by the writing stages and the
// model tier configuration it resolves against.
package llm

import (
	"fmt"
	"maps"
)

// ModelTier is the capability level a stage asks for.
type ModelTier string

const (
	// TierLite serves short structured tasks such as visual guidance.
	TierLite ModelTier = "lite"
	// TierStandard serves ideas and scripts.
	TierStandard ModelTier = "standard"
	// TierAdvanced serves long-form reasoning over source material.
	TierAdvanced ModelTier = "advanced"
)

// Provider names an LLM backend.
type Provider string

// ProviderGemini is the Google Gemini provider
const ProviderGemini Provider = "gemini"

// DefaultTemperature keeps structured output stable across retries.
const DefaultTemperature float32 = 0.4

// fallbackTiers is consulted, in order, when a tier has no model.
var fallbackTiers = []ModelTier{TierStandard, TierLite}

// Config maps tiers to concrete models.
type Config struct {
	Provider    Provider
	Models      map[ModelTier]string
	Temperature float32
}

// DefaultConfig returns the Gemini defaults.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierLite:     "gemini-2.5-flash-lite",
			TierStandard: "gemini-2.5-flash",
			TierAdvanced: "gemini-2.5-pro",
		},
		Temperature: DefaultTemperature,
	}
}

// ConfigFrom overlays tier to model overrides and an optional temperature on
// the defaults.
func ConfigFrom(models map[string]string, temperature *float32) (*Config, error) {
	cfg := DefaultConfig()
	for tier, model := range models {
		switch t := ModelTier(tier); t {
		case TierLite, TierStandard, TierAdvanced:
			cfg = cfg.WithModel(t, model)
		default:
			return nil, fmt.Errorf("unknown model tier %q", tier)
		}
	}
	if temperature != nil {
		cfg.Temperature = *temperature
	}
	return cfg, nil
}

// GetModel returns the model for tier, falling back to the standard and
// then the lite model. It returns "" when nothing is configured.
func (c *Config) GetModel(tier ModelTier) string {
	if model, ok := c.Models[tier]; ok {
		return model
	}
	for _, t := range fallbackTiers {
		if model, ok := c.Models[t]; ok {
			return model
		}
	}
	return ""
}

// WithModel returns a copy of c with tier mapped to model.
func (c *Config) WithModel(tier ModelTier, model string) *Config {
	out := *c
	out.Models = maps.Clone(c.Models)
	if out.Models == nil {
		out.Models = make(map[ModelTier]string, 1)
	}
	out.Models[tier] = model
	return &out
}
