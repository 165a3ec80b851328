package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. PAPER_SURVEY_LLM_MODEL.
const EnvPrefix = "PAPER_SURVEY"

// Config holds all settings of the research assistant
type Config struct {
	LLM       LLMConfig       `mapstructure:"llm"`
	Search    SearchConfig    `mapstructure:"search"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Report    ReportConfig    `mapstructure:"report"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	MCP       MCPConfig       `mapstructure:"mcp"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
	// PromptsDir holds <name>.tmpl files that replace built-in prompts.
	PromptsDir string `mapstructure:"prompts_dir"`
}

// LLMConfig selects and tunes the reasoning provider
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"` // openai, anthropic
	Model       string        `mapstructure:"model"`
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	// RequestsPerMinute paces model calls; 0 disables pacing.
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	// MaxCalls caps model calls per process; 0 means unlimited.
	MaxCalls int `mapstructure:"max_calls"`
}

// SearchConfig configures the CORE scholarly search API
type SearchConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	Endpoint     string        `mapstructure:"endpoint"`
	Retries      int           `mapstructure:"retries"`
	BaseDelay    time.Duration `mapstructure:"base_delay"`
	AutoDownload bool          `mapstructure:"auto_download"`
}

// FetchConfig configures document downloads
type FetchConfig struct {
	SaveDir     string        `mapstructure:"save_dir"`
	Attempts    int           `mapstructure:"attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
	// UserAgent replaces the browser-like default; some publishers answer
	// other agents with 403.
	UserAgent string `mapstructure:"user_agent"`
}

// ReportConfig configures survey generation
type ReportConfig struct {
	DraftConcurrency   int    `mapstructure:"draft_concurrency"`
	SummaryConcurrency int    `mapstructure:"summary_concurrency"`
	MaxReferences      int    `mapstructure:"max_references"`
	Language           string `mapstructure:"language"` // en, cn
	MaxDocumentTokens  int    `mapstructure:"max_document_tokens"`
}

// WorkflowConfig bounds the state machine and the tool loop
type WorkflowConfig struct {
	FeedbackCeiling   int  `mapstructure:"feedback_ceiling"`
	MaxToolIterations int  `mapstructure:"max_tool_iterations"`
	MaxSteps          int  `mapstructure:"max_steps"`
	ParallelTools     bool `mapstructure:"parallel_tools"`
}

// ArchiveConfig selects where generated reports are kept
type ArchiveConfig struct {
	Backend  string         `mapstructure:"backend"` // none, file, redis, postgres, mongo
	Dir      string         `mapstructure:"dir"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// MongoConfig contains MongoDB connection settings
type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// MCPConfig lists remote tool servers. Endpoints is shorthand for
// unnamed streamable HTTP servers.
type MCPConfig struct {
	Endpoints []string          `mapstructure:"endpoints"`
	Servers   []MCPServerConfig `mapstructure:"servers"`
}

// MCPServerConfig names one MCP server reached by endpoint or command
type MCPServerConfig struct {
	Name     string   `mapstructure:"name"`
	Endpoint string   `mapstructure:"endpoint"`
	Command  string   `mapstructure:"command"`
	Args     []string `mapstructure:"args"`
}

// TelemetryConfig contains tracing and metrics settings
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	// Exporter is stdout or otlp; empty chooses from Endpoint.
	Exporter    string  `mapstructure:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	MetricsAddr string  `mapstructure:"metrics_addr"`
}

// LogConfig mirrors PAPER_SURVEY_LOG_FORMAT and PAPER_SURVEY_LOG_LEVEL
type LogConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

// Load reads configuration from path (or paper-survey.yaml in the working
// directory or $HOME/.config/paper-survey when path is empty), then applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("paper-survey")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.config/paper-survey")
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	overrideFromEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.timeout", "2m")
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.requests_per_minute", 0)
	v.SetDefault("llm.max_calls", 0)

	v.SetDefault("search.endpoint", "https://api.core.ac.uk/v3")
	v.SetDefault("search.retries", 3)
	v.SetDefault("search.base_delay", "1s")
	v.SetDefault("search.auto_download", true)

	v.SetDefault("fetch.save_dir", "papers")
	v.SetDefault("fetch.attempts", 5)
	v.SetDefault("fetch.base_delay", "4s")
	v.SetDefault("fetch.concurrency", 3)
	v.SetDefault("fetch.timeout", "60s")
	v.SetDefault("fetch.user_agent", "")

	v.SetDefault("report.draft_concurrency", 2)
	v.SetDefault("report.summary_concurrency", 3)
	v.SetDefault("report.max_references", 10)
	v.SetDefault("report.language", "en")
	v.SetDefault("report.max_document_tokens", 12000)

	v.SetDefault("workflow.feedback_ceiling", 3)
	v.SetDefault("workflow.max_tool_iterations", 25)
	v.SetDefault("workflow.max_steps", 16)
	v.SetDefault("workflow.parallel_tools", false)

	v.SetDefault("archive.backend", "file")
	v.SetDefault("archive.dir", "reports")
	v.SetDefault("archive.redis.addr", "localhost:6379")
	v.SetDefault("archive.redis.db", 0)
	v.SetDefault("archive.redis.prefix", "paper-survey")
	v.SetDefault("archive.postgres.table", "survey_reports")
	v.SetDefault("archive.mongo.database", "paper_survey")
	v.SetDefault("archive.mongo.collection", "reports")

	v.SetDefault("mcp.endpoints", []string{})

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "paper-survey")
	v.SetDefault("telemetry.sample_ratio", 1.0)

	v.SetDefault("log.format", "json")
	v.SetDefault("log.level", "info")
}

// overrideFromEnv maps the unprefixed variables used by earlier releases.
// Prefixed variables win when both are set.
func overrideFromEnv(v *viper.Viper) {
	legacy := []struct {
		key string
		env []string
	}{
		{"llm.api_key", []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY"}},
		{"llm.base_url", []string{"OPENAI_BASE_URL"}},
		{"llm.model", []string{"DEFAULT_MODEL"}},
		{"search.api_key", []string{"CORE_API_KEY"}},
		{"fetch.save_dir", []string{"SAVE_DIR"}},
		{"report.language", []string{"LANGUAGE"}},
		{"archive.postgres.dsn", []string{"DATABASE_URL"}},
		{"archive.redis.addr", []string{"REDIS_ADDR"}},
		{"archive.redis.password", []string{"REDIS_PASSWORD"}},
		{"archive.mongo.uri", []string{"MONGODB_URI"}},
	}
	for _, l := range legacy {
		if prefixedSet(l.key) {
			continue
		}
		for _, name := range l.env {
			if val := os.Getenv(name); val != "" {
				v.Set(l.key, val)
				break
			}
		}
	}

	if !prefixedSet("llm.temperature") {
		if raw := os.Getenv("TEMPERATURE"); raw != "" {
			if t, err := strconv.ParseFloat(raw, 64); err == nil {
				v.Set("llm.temperature", t)
			}
		}
	}
	if !prefixedSet("report.max_references") {
		if raw := os.Getenv("MAX_SURVEY_REFERENCE"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil {
				v.Set("report.max_references", n)
			}
		}
	}
}

func prefixedSet(key string) bool {
	_, ok := os.LookupEnv(EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	return ok
}

// Validate checks every section and returns all problems at once.
func (c *Config) Validate() error {
	v := NewValidator()

	v.ValidateOneOf("llm.provider", c.LLM.Provider, "openai", "anthropic")
	v.RequireNonEmpty("llm.model", c.LLM.Model)
	v.ValidateFloatRange("llm.temperature", c.LLM.Temperature, 0.0, 2.0)
	v.RequirePositive("llm.max_tokens", c.LLM.MaxTokens)
	v.ValidateRange("llm.max_retries", c.LLM.MaxRetries, 0, 10)
	v.ValidateRange("llm.requests_per_minute", c.LLM.RequestsPerMinute, 0, 100000)
	v.ValidateRange("llm.max_calls", c.LLM.MaxCalls, 0, 1000000)

	v.RequireNonEmpty("search.endpoint", c.Search.Endpoint)
	v.RequirePositive("search.retries", c.Search.Retries)

	v.ValidateRange("fetch.attempts", c.Fetch.Attempts, 1, 10)
	v.RequirePositive("fetch.concurrency", c.Fetch.Concurrency)

	v.RequirePositive("report.draft_concurrency", c.Report.DraftConcurrency)
	v.RequirePositive("report.summary_concurrency", c.Report.SummaryConcurrency)
	v.ValidateRange("report.max_references", c.Report.MaxReferences, 1, 100)
	v.ValidateOneOf("report.language", c.Report.Language, "en", "cn")
	v.RequirePositive("report.max_document_tokens", c.Report.MaxDocumentTokens)

	v.ValidateRange("workflow.feedback_ceiling", c.Workflow.FeedbackCeiling, 1, 10)
	v.RequirePositive("workflow.max_tool_iterations", c.Workflow.MaxToolIterations)
	v.RequirePositive("workflow.max_steps", c.Workflow.MaxSteps)

	for i, srv := range c.MCP.Servers {
		if srv.Endpoint == "" && srv.Command == "" {
			v.RequireNonEmpty(fmt.Sprintf("mcp.servers[%d].endpoint", i), srv.Endpoint)
		}
	}

	v.ValidateOneOf("archive.backend", c.Archive.Backend, "none", "file", "redis", "postgres", "mongo")
	switch c.Archive.Backend {
	case "file":
		v.RequireNonEmpty("archive.dir", c.Archive.Dir)
	case "redis":
		v.RequireNonEmpty("archive.redis.addr", c.Archive.Redis.Addr)
		v.ValidateDBNumber("archive.redis.db", c.Archive.Redis.DB)
		v.RequireNonEmpty("archive.redis.prefix", c.Archive.Redis.Prefix)
	case "postgres":
		v.RequireNonEmpty("archive.postgres.dsn", c.Archive.Postgres.DSN)
		v.ValidateIdentifier("archive.postgres.table", c.Archive.Postgres.Table)
	case "mongo":
		v.RequireNonEmpty("archive.mongo.uri", c.Archive.Mongo.URI)
		v.RequireNonEmpty("archive.mongo.database", c.Archive.Mongo.Database)
		v.RequireNonEmpty("archive.mongo.collection", c.Archive.Mongo.Collection)
	}

	v.ValidateOneOf("log.format", strings.ToLower(c.Log.Format), "json", "text")
	if c.Telemetry.Enabled {
		v.ValidateOneOf("telemetry.exporter", c.Telemetry.Exporter, "", "stdout", "otlp")
		v.ValidateFloatRange("telemetry.sample_ratio", c.Telemetry.SampleRatio, 0, 1)
	}

	return v.Error()
}
