package config

import (
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/order-intake/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	XRef       XRefConfig       `yaml:"xref" mapstructure:"xref"`
	Customer   CustomerConfig   `yaml:"customer" mapstructure:"customer"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Inbox      InboxConfig      `yaml:"inbox" mapstructure:"inbox"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// OCRConfig configures document text extraction.
type OCRConfig struct {
	// Primary and Fallback name backends: pdftotext, pdfreader, mistral or text.
	Primary       string `yaml:"primary" mapstructure:"primary"`
	Fallback      string `yaml:"fallback" mapstructure:"fallback"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralAPIKey string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string `yaml:"mistral_model" mapstructure:"mistral_model"`
	// Charset decodes non-UTF-8 text documents (e.g. windows-1252).
	Charset string `yaml:"charset" mapstructure:"charset"`
}

// XRefConfig configures the product cross-reference catalog.
type XRefConfig struct {
	// Source is store, memory or service.
	Source  string                     `yaml:"source" mapstructure:"source"`
	BaseURL string                     `yaml:"base_url" mapstructure:"base_url"`
	APIKey  string                     `yaml:"api_key" mapstructure:"api_key"`
	RateRPS float64                    `yaml:"rate_rps" mapstructure:"rate_rps"`
	Retry   resilience.RetrySettings   `yaml:"retry" mapstructure:"retry"`
	Circuit resilience.CircuitSettings `yaml:"circuit" mapstructure:"circuit"`
}

// CustomerConfig configures branch enrichment.
type CustomerConfig struct {
	// Provider is store, salesforce or none.
	Provider        string `yaml:"provider" mapstructure:"provider"`
	CacheTTLMinutes int    `yaml:"cache_ttl_minutes" mapstructure:"cache_ttl_minutes"`
}

// SalesforceConfig holds Salesforce JWT credentials.
type SalesforceConfig struct {
	ClientID   string  `yaml:"client_id" mapstructure:"client_id"`
	Username   string  `yaml:"username" mapstructure:"username"`
	KeyPath    string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL   string  `yaml:"login_url" mapstructure:"login_url"`
	TaxIDField string  `yaml:"tax_id_field" mapstructure:"tax_id_field"`
	RateRPS    float64 `yaml:"rate_rps" mapstructure:"rate_rps"`
}

// PipelineConfig configures document processing.
type PipelineConfig struct {
	// MinConfidence below which a classification adds a warning.
	MinConfidence float64 `yaml:"min_confidence" mapstructure:"min_confidence"`
	// ClassifyPages is how many leading pages the subtype scorer reads.
	ClassifyPages int `yaml:"classify_pages" mapstructure:"classify_pages"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentDocuments int `yaml:"max_concurrent_documents" mapstructure:"max_concurrent_documents"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	MaxUploadMB    int      `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
}

// InboxConfig configures the FTP inbox.
type InboxConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	User        string `yaml:"user" mapstructure:"user"`
	Password    string `yaml:"password" mapstructure:"password"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	LocalDir    string `yaml:"local_dir" mapstructure:"local_dir"`
}

// MonitoringConfig configures intake health alerts sent from the server.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MissRateThreshold    float64 `yaml:"miss_rate_threshold" mapstructure:"miss_rate_threshold"` // 0 disables
	CooldownMinutes      int     `yaml:"cooldown_minutes" mapstructure:"cooldown_minutes"`
}

var (
	storeDrivers   = []string{"sqlite", "postgres"}
	ocrBackends    = []string{"pdftotext", "pdfreader", "mistral", "text"}
	xrefSources    = []string{"store", "memory", "service"}
	customerSource = []string{"store", "salesforce", "none"}
)

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INTAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Keys without a useful default are still registered so that
	// environment overrides reach Unmarshal.
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "order-intake.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("ocr.primary", "pdftotext")
	v.SetDefault("ocr.fallback", "pdfreader")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.mistral_api_key", "")
	v.SetDefault("ocr.mistral_model", "mistral-ocr-latest")
	v.SetDefault("ocr.charset", "windows-1252")
	v.SetDefault("xref.source", "store")
	v.SetDefault("xref.base_url", "")
	v.SetDefault("xref.api_key", "")
	v.SetDefault("xref.rate_rps", 20)
	v.SetDefault("xref.retry.max_attempts", 3)
	v.SetDefault("xref.retry.initial_backoff_ms", 200)
	v.SetDefault("xref.retry.max_backoff_ms", 5000)
	v.SetDefault("xref.circuit.failure_threshold", 5)
	v.SetDefault("xref.circuit.reset_timeout_secs", 30)
	v.SetDefault("customer.provider", "store")
	v.SetDefault("customer.cache_ttl_minutes", 60)
	v.SetDefault("salesforce.client_id", "")
	v.SetDefault("salesforce.username", "")
	v.SetDefault("salesforce.key_path", "")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.tax_id_field", "CNPJ__c")
	v.SetDefault("salesforce.rate_rps", 5)
	v.SetDefault("pipeline.min_confidence", 0.6)
	v.SetDefault("pipeline.classify_pages", 2)
	v.SetDefault("batch.max_concurrent_documents", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_upload_mb", 32)
	v.SetDefault("inbox.url", "")
	v.SetDefault("inbox.user", "")
	v.SetDefault("inbox.password", "")
	v.SetDefault("inbox.timeout_secs", 30)
	v.SetDefault("inbox.local_dir", "inbox")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.miss_rate_threshold", 0.5)
	v.SetDefault("monitoring.cooldown_minutes", 60)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate rejects unknown provider names and inconsistent settings.
func (c *Config) Validate() error {
	if !slices.Contains(storeDrivers, c.Store.Driver) {
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if !slices.Contains(ocrBackends, c.OCR.Primary) {
		return eris.Errorf("config: unknown ocr primary %q", c.OCR.Primary)
	}
	if c.OCR.Fallback != "" && c.OCR.Fallback != "none" && !slices.Contains(ocrBackends, c.OCR.Fallback) {
		return eris.Errorf("config: unknown ocr fallback %q", c.OCR.Fallback)
	}
	if !slices.Contains(xrefSources, c.XRef.Source) {
		return eris.Errorf("config: unknown xref source %q", c.XRef.Source)
	}
	if c.XRef.Source == "service" && c.XRef.BaseURL == "" {
		return eris.New("config: xref.base_url is required for the service source")
	}
	if !slices.Contains(customerSource, c.Customer.Provider) {
		return eris.Errorf("config: unknown customer provider %q", c.Customer.Provider)
	}
	if c.Pipeline.MinConfidence < 0 || c.Pipeline.MinConfidence > 1 {
		return eris.Errorf("config: pipeline.min_confidence %.2f outside [0,1]", c.Pipeline.MinConfidence)
	}
	if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
		return eris.Errorf("config: monitoring.failure_rate_threshold %.2f outside [0,1]", c.Monitoring.FailureRateThreshold)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
