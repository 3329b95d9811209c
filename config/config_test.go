package config

import (
	"os"
	"path/filepath"
	"testing"

	"fronix-gateway/core/security"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{" a , ,b,", []string{"a", "b"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, splitList(tt.in), tt.in)
	}
}

func TestLoadProviders_GenericKeysMerged(t *testing.T) {
	t.Setenv("AI_API_ENDPOINT_V2", "https://generic.example/v1")
	t.Setenv("AI_API_KEYS_V2", "k1, k2")
	t.Setenv("AI_API_KEY_V2", "k2")
	t.Setenv("AI_API_KEY_V2_3", "k3")
	t.Setenv("PRO_A_KEYS", "a1,a2")

	providers, err := loadProviders("")
	require.NoError(t, err)

	generic := providers[ProviderGeneric]
	assert.Equal(t, "https://generic.example/v1", generic.Endpoint)
	assert.Equal(t, []string{"k1", "k2", "k3"}, generic.Keys)
	assert.Equal(t, []string{"a1", "a2"}, providers[ProviderProA].Keys)
	assert.True(t, providers[ProviderPublic].Anonymous)
	assert.Empty(t, providers[ProviderBeta].Keys)
}

func TestLoadProviders_DecryptsKeys(t *testing.T) {
	const secret = "0123456789abcdef0123456789abcdef"
	cc, err := security.NewCredentialCipher(secret)
	require.NoError(t, err)
	enc, err := cc.Encrypt("sk-real-key")
	require.NoError(t, err)

	t.Setenv("BETA_KEYS", "plain,"+enc)

	providers, err := loadProviders(secret)
	require.NoError(t, err)
	assert.Equal(t, []string{"plain", "sk-real-key"}, providers[ProviderBeta].Keys)
}

func TestLoadProviders_EncryptedWithoutKey(t *testing.T) {
	t.Setenv("BETA_KEYS", "enc:AAAA")
	_, err := loadProviders("")
	assert.Error(t, err)
}

func TestLoadProviders_InvalidCredentialsKey(t *testing.T) {
	_, err := loadProviders("short")
	assert.Error(t, err)
}

func TestLoadRoutingTable_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pro:
  primary: pro-b
  secondary: pro-a
  models: [gpt-4o]
title_model: openai
`), 0o644))

	table, err := LoadRoutingTable(path)
	require.NoError(t, err)
	assert.Equal(t, ProviderProB, table.Pro.Primary)
	assert.Equal(t, []string{"gpt-4o"}, table.Pro.Models)
	assert.Equal(t, "openai", table.TitleModel)
	// 未出现的字段保留默认值
	assert.Equal(t, ProviderGeneric, table.Default.Provider)
	assert.True(t, table.IsPublicModel("mistral"))
}

func TestLoadRoutingTable_FileMapsReplaceDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pro:
  pinned: {}
  model_map:
    pro-b:
      gpt-4o: openai/gpt-4o-2024-11-20
beta:
  models:
    only-this: ""
`), 0o644))

	table, err := LoadRoutingTable(path)
	require.NoError(t, err)

	assert.Empty(t, table.Pro.Pinned)
	assert.False(t, table.Pro.HasModel("claude-opus-4"))
	assert.Equal(t, map[string]map[string]string{
		ProviderProB: {"gpt-4o": "openai/gpt-4o-2024-11-20"},
	}, table.Pro.ModelMap)
	assert.Equal(t, map[string]string{"only-this": ""}, table.Beta.Models)

	// 同一段中未出现的键保留默认值
	defaults := DefaultRoutingTable()
	assert.Equal(t, defaults.Pro.Models, table.Pro.Models)
	assert.Equal(t, defaults.Pro.Primary, table.Pro.Primary)
	assert.Equal(t, ProviderBeta, table.Beta.Provider)
	assert.Equal(t, defaults.Direct, table.Direct)
}

func TestLoadRoutingTable_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	table, err := LoadRoutingTable(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultRoutingTable(), table)
}

func TestLoadRoutingTable_Errors(t *testing.T) {
	_, err := LoadRoutingTable(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pro: [unclosed"), 0o644))
	_, err = LoadRoutingTable(path)
	assert.Error(t, err)

	table, err := LoadRoutingTable("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRoutingTable(), table)
}

func TestValidate(t *testing.T) {
	providers := map[string]ProviderConfig{
		ProviderPublic:  {Name: ProviderPublic},
		ProviderGeneric: {Name: ProviderGeneric},
		ProviderProA:    {Name: ProviderProA},
		ProviderProB:    {Name: ProviderProB},
		ProviderBeta:    {Name: ProviderBeta},
	}
	require.NoError(t, DefaultRoutingTable().Validate(providers))

	table := DefaultRoutingTable()
	table.Pro.Pinned["claude-opus-4"] = "nowhere"
	assert.ErrorContains(t, table.Validate(providers), "nowhere")

	table = DefaultRoutingTable()
	table.Default.Provider = ""
	assert.Error(t, table.Validate(providers))
}

func TestDirectTierLookup(t *testing.T) {
	tier := DirectTier{Models: map[string]string{"a": "", "b": "vendor/b"}}

	up, ok := tier.Lookup("a")
	assert.True(t, ok)
	assert.Equal(t, "a", up)

	up, ok = tier.Lookup("b")
	assert.True(t, ok)
	assert.Equal(t, "vendor/b", up)

	_, ok = tier.Lookup("c")
	assert.False(t, ok)
}
