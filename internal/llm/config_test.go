package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetModel(t *testing.T) {
	tests := []struct {
		name   string
		models map[ModelTier]string
		tier   ModelTier
		want   string
	}{
		{"defaults lite", DefaultConfig().Models, TierLite, "gemini-2.5-flash-lite"},
		{"defaults standard", DefaultConfig().Models, TierStandard, "gemini-2.5-flash"},
		{"defaults advanced", DefaultConfig().Models, TierAdvanced, "gemini-2.5-pro"},
		{"falls back to standard", map[ModelTier]string{TierStandard: "std", TierLite: "lite"}, TierAdvanced, "std"},
		{"falls back to lite", map[ModelTier]string{TierLite: "lite"}, "unknown", "lite"},
		{"nothing configured", map[ModelTier]string{}, TierAdvanced, ""},
		{"nil models", nil, TierLite, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Provider: ProviderGemini, Models: tt.models}
			assert.Equal(t, tt.want, cfg.GetModel(tt.tier))
		})
	}
}

func TestWithModel_LeavesOriginalUntouched(t *testing.T) {
	base := DefaultConfig()
	base.Temperature = 0.7

	custom := base.WithModel(TierAdvanced, "gemini-exp")

	assert.Equal(t, "gemini-2.5-pro", base.GetModel(TierAdvanced))
	assert.Equal(t, "gemini-exp", custom.GetModel(TierAdvanced))
	assert.Equal(t, "gemini-2.5-flash", custom.GetModel(TierStandard))
	assert.InDelta(t, 0.7, custom.Temperature, 1e-6)
	assert.Equal(t, ProviderGemini, custom.Provider)

	empty := (&Config{}).WithModel(TierLite, "tiny")
	assert.Equal(t, "tiny", empty.GetModel(TierStandard))
}

func TestConfigFrom(t *testing.T) {
	temp := float32(0.9)
	cfg, err := ConfigFrom(map[string]string{"standard": "gemini-exp"}, &temp)
	require.NoError(t, err)
	assert.Equal(t, "gemini-exp", cfg.GetModel(TierStandard))
	assert.Equal(t, "gemini-2.5-pro", cfg.GetModel(TierAdvanced))
	assert.InDelta(t, 0.9, cfg.Temperature, 1e-6)

	cfg, err = ConfigFrom(nil, nil)
	require.NoError(t, err)
	assert.InDelta(t, DefaultTemperature, cfg.Temperature, 1e-6)

	_, err = ConfigFrom(map[string]string{"huge": "x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown model tier "huge"`)
}
