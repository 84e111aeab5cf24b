package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seedcheck/validator-cli/internal/model"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "validator.db", cfg.Store.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 500, cfg.Router.SelfCrawlRatio)
	assert.Equal(t, 3, cfg.Quota.FreeLimit)
	assert.Equal(t, 10, cfg.Rate.RequestsPerMinute)
	assert.Equal(t, "https://api.tikhub.io", cfg.TikHub.BaseURL)
	assert.True(t, cfg.TikHub.Enabled)
	assert.Equal(t, 300, cfg.Monitoring.CheckIntervalSecs)
	assert.InDelta(t, 0.3, cfg.Monitoring.FailureRateThreshold, 1e-9)
	assert.InDelta(t, 0.01, cfg.Pricing.CrawlerPerCall, 1e-9)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("VALIDATOR_STORE_DRIVER", "postgres")
	t.Setenv("VALIDATOR_ROUTER_SELF_CRAWL_RATIO", "900")
	t.Setenv("VALIDATOR_QUOTA_FREE_LIMIT", "10")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 900, cfg.Router.SelfCrawlRatio)
	assert.Equal(t, 10, cfg.Quota.FreeLimit)
}

func TestDefaultRuntime(t *testing.T) {
	cfg := &Config{
		Crawler: CrawlerConfig{Enabled: true},
		TikHub:  TikHubConfig{Enabled: false, Key: "sys"},
		Jina:    JinaConfig{Key: "jina-key"},
		Serper:  SerperConfig{Key: "serper-key"},
		LLM: LLMConfig{
			Primary: LLMEndpoint{BaseURL: "https://llm.example.com/v1", Key: "k", Model: "deepseek-chat"},
			Fallbacks: []LLMEndpoint{
				{Provider: "anthropic", Key: "ak", Model: "claude-haiku-4-5-20251001"},
			},
		},
	}

	rc := cfg.DefaultRuntime()

	assert.True(t, rc.UseSelfCrawler)
	assert.False(t, rc.UseThirdParty)
	assert.True(t, rc.Platforms["xiaohongshu"])
	assert.Equal(t, "jina-key", rc.SearchKeys["jina"])
	assert.Equal(t, "serper-key", rc.SearchKeys["serper"])
	// Empty provider defaults to the OpenAI-compatible client.
	assert.Equal(t, model.ProviderOpenAI, rc.Primary.Provider)
	require.Len(t, rc.Fallbacks, 1)
	assert.Equal(t, model.ProviderAnthropic, rc.Fallbacks[0].Provider)
}

func TestLLMEndpoint_Runtime(t *testing.T) {
	ep := LLMEndpoint{Provider: "anthropic", Key: "ak", Model: "claude-haiku-4-5-20251001"}
	rt := ep.Runtime()

	assert.Equal(t, model.ProviderAnthropic, rt.Provider)
	assert.Equal(t, "ak", rt.APIKey)
	assert.True(t, rt.Configured())
}
