package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "pdftotext", cfg.OCR.Primary)
	assert.Equal(t, "pdfreader", cfg.OCR.Fallback)
	assert.Equal(t, "windows-1252", cfg.OCR.Charset)
	assert.Equal(t, "store", cfg.XRef.Source)
	assert.Equal(t, 3, cfg.XRef.Retry.MaxAttempts)
	assert.Equal(t, 5, cfg.XRef.Circuit.FailureThreshold)
	assert.Equal(t, "store", cfg.Customer.Provider)
	assert.Equal(t, "CNPJ__c", cfg.Salesforce.TaxIDField)
	assert.Equal(t, "https://login.salesforce.com", cfg.Salesforce.LoginURL)
	assert.InDelta(t, 0.6, cfg.Pipeline.MinConfidence, 0.001)
	assert.Equal(t, 2, cfg.Pipeline.ClassifyPages)
	assert.Equal(t, 4, cfg.Batch.MaxConcurrentDocuments)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 30, cfg.Inbox.TimeoutSecs)
	assert.Equal(t, 300, cfg.Monitoring.CheckIntervalSecs)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)
	assert.InDelta(t, 0.2, cfg.Monitoring.FailureRateThreshold, 0.001)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/intake
log:
  level: debug
  format: console
ocr:
  primary: mistral
  fallback: none
xref:
  source: service
  base_url: http://xref.internal
  retry:
    max_attempts: 5
pipeline:
  min_confidence: 0.75
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/intake", cfg.Store.DatabaseURL)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "mistral", cfg.OCR.Primary)
	assert.Equal(t, "none", cfg.OCR.Fallback)
	assert.Equal(t, "http://xref.internal", cfg.XRef.BaseURL)
	assert.Equal(t, 5, cfg.XRef.Retry.MaxAttempts)
	assert.InDelta(t, 0.75, cfg.Pipeline.MinConfidence, 0.001)
	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("INTAKE_STORE_DRIVER", "postgres")
	t.Setenv("INTAKE_LOG_LEVEL", "warn")
	t.Setenv("INTAKE_XREF_API_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "secret", cfg.XRef.APIKey)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("INTAKE_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func validConfig() *Config {
	return &Config{
		Store:    StoreConfig{Driver: "sqlite"},
		OCR:      OCRConfig{Primary: "pdftotext", Fallback: "pdfreader"},
		XRef:     XRefConfig{Source: "store"},
		Customer: CustomerConfig{Provider: "none"},
		Pipeline: PipelineConfig{MinConfidence: 0.5},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no fallback", func(c *Config) { c.OCR.Fallback = "" }, ""},
		{"store driver", func(c *Config) { c.Store.Driver = "mysql" }, "unknown store driver"},
		{"ocr primary", func(c *Config) { c.OCR.Primary = "tesseract" }, "unknown ocr primary"},
		{"ocr fallback", func(c *Config) { c.OCR.Fallback = "tesseract" }, "unknown ocr fallback"},
		{"xref source", func(c *Config) { c.XRef.Source = "redis" }, "unknown xref source"},
		{"service without url", func(c *Config) { c.XRef.Source = "service" }, "base_url is required"},
		{"customer provider", func(c *Config) { c.Customer.Provider = "hubspot" }, "unknown customer provider"},
		{"confidence range", func(c *Config) { c.Pipeline.MinConfidence = 1.5 }, "outside [0,1]"},
		{"failure rate range", func(c *Config) { c.Monitoring.FailureRateThreshold = -0.1 }, "failure_rate_threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse log level")
}
