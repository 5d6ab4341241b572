package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fscwatch/harvester/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.HTTP.TimeoutSeconds)
	assert.Equal(t, 3, cfg.HTTP.MaxRetries)
	assert.InDelta(t, 2.0, cfg.HTTP.BackoffFactor, 0.001)
	assert.Equal(t, 1, cfg.Crawl.StartPage)
	assert.Equal(t, 3, cfg.Crawl.MaxConsecutiveEmpty)
	assert.True(t, cfg.Upload.SkipExisting)
	assert.Equal(t, "*.md", cfg.Upload.Pattern)
	assert.Equal(t, "jsonl", cfg.Storage.Backend)
	assert.Equal(t, []string{"pdf", "doc", "docx"}, cfg.Attachments.AllowedTypes)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
http:
  timeout_seconds: 10
  max_retries: 5
crawl:
  source: penalties
  start_page: 2
upload:
  store_name: fsc-penalties
  skip_existing: false
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.HTTP.TimeoutSeconds)
	assert.Equal(t, 5, cfg.HTTP.MaxRetries)
	assert.Equal(t, "penalties", cfg.Crawl.Source)
	assert.Equal(t, 2, cfg.Crawl.StartPage)
	assert.Equal(t, "fsc-penalties", cfg.Upload.StoreName)
	assert.False(t, cfg.Upload.SkipExisting)
	// untouched sections keep defaults
	assert.Equal(t, 3, cfg.Crawl.MaxConsecutiveEmpty)
}

func TestValidate(t *testing.T) {
	valid := func() config.Config {
		cfg, err := config.Load("")
		require.NoError(t, err)
		return cfg
	}

	t.Run("ZeroTimeout", func(t *testing.T) {
		cfg := valid()
		cfg.HTTP.TimeoutSeconds = 0
		assert.Error(t, cfg.Validate())
	})
	t.Run("BackoffBelowOne", func(t *testing.T) {
		cfg := valid()
		cfg.HTTP.BackoffFactor = 0.5
		assert.Error(t, cfg.Validate())
	})
	t.Run("UnknownStorageBackend", func(t *testing.T) {
		cfg := valid()
		cfg.Storage.Backend = "mysql"
		assert.Error(t, cfg.Validate())
	})
	t.Run("PostgresWithoutDSN", func(t *testing.T) {
		cfg := valid()
		cfg.Storage.Backend = "postgres"
		cfg.Storage.DSN = ""
		assert.Error(t, cfg.Validate())
	})
	t.Run("GCSWithoutBucket", func(t *testing.T) {
		cfg := valid()
		cfg.Blob.Backend = "gcs"
		assert.Error(t, cfg.Validate())
	})
	t.Run("PubSubEnabledWithoutTopic", func(t *testing.T) {
		cfg := valid()
		cfg.PubSub.Enabled = true
		cfg.PubSub.ProjectID = "proj"
		assert.Error(t, cfg.Validate())
	})
}
