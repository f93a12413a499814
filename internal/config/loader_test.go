package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	env := map[string]string{
		"WIKI_BASE_URL":  "https://corp.atlassian.net/wiki",
		"WIKI_EMAIL":     "bot@corp.example",
		"WIKI_API_TOKEN": "tok-123",
		"EMBED_API_KEY":  "sk-embed",
		"DATABASE_URL":   "postgres://localhost/wikirag",
	}
	for k, v := range env {
		old, had := os.LookupEnv(k)
		_ = os.Setenv(k, v)
		t.Cleanup(func() {
			if had {
				_ = os.Setenv(k, old)
			} else {
				_ = os.Unsetenv(k)
			}
		})
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	setRequiredEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "https://corp.atlassian.net/wiki", cfg.Wiki.BaseURL)
	require.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	require.Equal(t, 1536, cfg.Embedding.Dimension)
	require.Equal(t, 400, cfg.Chunker.TargetTokens)
	require.Equal(t, 30, cfg.Search.TopK)
	require.Equal(t, 0.3, cfg.Search.MinScore)
	require.Equal(t, ":8080", cfg.HTTPAddr)
}

func TestLoadMissingRequiredFails(t *testing.T) {
	for _, k := range []string{"WIKI_BASE_URL", "WIKI_EMAIL", "WIKI_API_TOKEN", "EMBED_API_KEY", "DATABASE_URL"} {
		_ = os.Unsetenv(k)
	}
	_, err := Load()
	require.Error(t, err)
}

func TestDimensionForModel(t *testing.T) {
	require.Equal(t, 3072, dimensionForModel("text-embedding-3-large"))
	require.Equal(t, 1536, dimensionForModel("text-embedding-3-small"))
}

func TestLoadExplicitDimensionOverride(t *testing.T) {
	setRequiredEnv(t)
	_ = os.Setenv("EMBED_DIMENSIONS", "3072")
	t.Cleanup(func() { _ = os.Unsetenv("EMBED_DIMENSIONS") })
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 3072, cfg.Embedding.Dimension)
}

func TestLoadRejectsBadDimension(t *testing.T) {
	setRequiredEnv(t)
	_ = os.Setenv("EMBED_DIMENSIONS", "777")
	t.Cleanup(func() { _ = os.Unsetenv("EMBED_DIMENSIONS") })
	_, err := Load()
	require.Error(t, err)
}
