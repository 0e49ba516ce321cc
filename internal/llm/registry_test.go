package llm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/animus-coder/codevet/internal/config"
	"github.com/animus-coder/codevet/internal/llm"
	"github.com/animus-coder/codevet/internal/llm/configbuilder"
	llmmock "github.com/animus-coder/codevet/internal/llm/mock"
)

func TestRegistryResolve(t *testing.T) {
	reg := llm.NewRegistry()
	mockProvider := &llmmock.Provider{NameValue: "mock"}
	reg.RegisterProvider("mock", mockProvider)
	reg.RegisterModel("default", llm.ModelRoute{
		Provider:    "mock",
		Model:       "dummy",
		Temperature: 0.2,
	}, true)

	p, route, err := reg.Resolve("")
	require.NoError(t, err)
	require.Equal(t, mockProvider, p)
	require.Equal(t, "dummy", route.Model)
	require.Equal(t, "default", reg.DefaultModel())

	_, _, err = reg.Resolve("missing")
	require.ErrorIs(t, err, llm.ErrUnknownModel)
}

func TestRegistryResolvesProviderQualifiedModel(t *testing.T) {
	reg := llm.NewRegistry()
	reg.RegisterProvider("local", &llmmock.Provider{NameValue: "local"})
	reg.RegisterModel("main", llm.ModelRoute{Provider: "local", Model: "qwen2.5-coder:7b", Temperature: 0.1, MaxTokens: 2048}, true)

	p, route, err := reg.Resolve("local/deepseek-coder:6.7b")
	require.NoError(t, err)
	require.Equal(t, "local", p.Name())
	require.Equal(t, "deepseek-coder:6.7b", route.Model)
	require.Equal(t, 0.1, route.Temperature)
	require.Equal(t, 2048, route.MaxTokens)

	_, _, err = reg.Resolve("openrouter/anthropic/claude")
	require.ErrorIs(t, err, llm.ErrUnknownModel)
	_, _, err = reg.Resolve("local/")
	require.ErrorIs(t, err, llm.ErrUnknownModel)
}

func TestRegistryUnknownProvider(t *testing.T) {
	reg := llm.NewRegistry()
	reg.RegisterModel("main", llm.ModelRoute{Provider: "ghost", Model: "x"}, true)
	_, _, err := reg.Resolve("main")
	require.ErrorContains(t, err, `provider "ghost"`)
}

func TestBuildRegistryFromConfig(t *testing.T) {
	cfg := &config.Config{
		Providers: map[string]config.ProviderConfig{
			"openai": {Type: "openai", BaseURL: "http://example.com/v1"},
			"local":  {Type: "ollama"},
		},
		Models: map[string]config.ModelConfig{
			"main":  {Provider: "openai", Model: "gpt-4o", Default: true},
			"coder": {Provider: "local", Model: "qwen2.5-coder"},
		},
	}

	reg, err := configbuilder.BuildRegistryFromConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, []string{"coder", "main"}, reg.Models())

	p, _, err := reg.Resolve("main")
	require.NoError(t, err)
	require.Equal(t, "openai", p.Name())

	p, route, err := reg.Resolve("coder")
	require.NoError(t, err)
	require.Equal(t, "local", p.Name())
	require.Equal(t, "qwen2.5-coder", route.Model)
}

func TestBuildRegistryRejectsUnknownType(t *testing.T) {
	cfg := &config.Config{
		Providers: map[string]config.ProviderConfig{"x": {Type: "carrier-pigeon"}},
		Models:    map[string]config.ModelConfig{"main": {Provider: "x", Model: "m", Default: true}},
	}
	_, err := configbuilder.BuildRegistryFromConfig(cfg)
	require.ErrorContains(t, err, "unknown provider type")

	cfg.Providers["x"] = config.ProviderConfig{Type: "custom"}
	_, err = configbuilder.BuildRegistryFromConfig(cfg)
	require.ErrorContains(t, err, "need base_url")
}
