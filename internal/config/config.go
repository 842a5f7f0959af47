// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Source and target types.
const (
	SourceSSC        = "ssc"
	SourceFindingsDB = "findingsdb"

	TargetSSC    = "ssc"
	TargetTFS    = "tfs"
	TargetGitHub = "github"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Run() RunConfig
	Source() SourceConfig
	Target() TargetConfig
	Processing() ProcessingConfig
	Resolvers() ResolversConfig
	// ContextValue returns the configured value of a context option, read
	// from "context.<key>" with the usual flag, env and file precedence.
	ContextValue(key string) (any, bool)

	SetRunParallelism(int)
	SetRunDryRun(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	RunCfg        RunConfig        `mapstructure:"run" yaml:"run"`
	SourceCfg     SourceConfig     `mapstructure:"source" yaml:"source"`
	TargetCfg     TargetConfig     `mapstructure:"target" yaml:"target"`
	ProcessingCfg ProcessingConfig `mapstructure:"processing" yaml:"processing"`
	ResolversCfg  ResolversConfig  `mapstructure:"resolvers" yaml:"resolvers"`

	// contextLookup reads context options through viper so nested and dotted
	// keys resolve the same way. Nil when built without viper.
	contextLookup func(key string) (any, bool)
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Run() RunConfig               { return c.RunCfg }
func (c *Config) Source() SourceConfig         { return c.SourceCfg }
func (c *Config) Target() TargetConfig         { return c.TargetCfg }
func (c *Config) Processing() ProcessingConfig { return c.ProcessingCfg }
func (c *Config) Resolvers() ResolversConfig   { return c.ResolversCfg }

func (c *Config) ContextValue(key string) (any, bool) {
	if c.contextLookup == nil {
		return nil, false
	}
	return c.contextLookup(key)
}

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetRunParallelism(n int) { c.RunCfg.Parallelism = n }
func (c *Config) SetRunDryRun(b bool)     { c.RunCfg.DryRun = b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// RunConfig controls one sync run.
type RunConfig struct {
	// Parallelism is the number of branches processed at once. 1 is sequential.
	Parallelism int `mapstructure:"parallelism" yaml:"parallelism"`
	// DryRun renders and logs field maps without submitting.
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`
	// UpdateExisting enables the previously-submitted issue pass for targets
	// that support it.
	UpdateExisting bool `mapstructure:"update_existing" yaml:"update_existing"`
}

// SourceConfig selects and configures the vulnerability source.
type SourceConfig struct {
	Type     string         `mapstructure:"type" yaml:"type"`
	SSC      SSCConfig      `mapstructure:"ssc" yaml:"ssc"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
}

// SSCConfig holds the connection defaults and query settings for SSC. The
// url and credentials are usually given as ssc.* context options instead.
type SSCConfig struct {
	URL        string        `mapstructure:"url" yaml:"url"`
	Token      string        `mapstructure:"token" yaml:"-"`
	User       string        `mapstructure:"user" yaml:"user"`
	Password   string        `mapstructure:"password" yaml:"-"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RateLimit  float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	PageSize   int           `mapstructure:"page_size" yaml:"page_size"`
	// IssueFilter is an SSC issue search query applied to every branch.
	IssueFilter string `mapstructure:"issue_filter" yaml:"issue_filter"`
	// VersionQuery is an SSC application version search query used when
	// expanding application versions.
	VersionQuery string `mapstructure:"version_query" yaml:"version_query"`
	// AttributeMappings maps application version attribute names to context
	// properties, for example "TFS Project" to "tfs.project".
	AttributeMappings map[string]string `mapstructure:"attribute_mappings" yaml:"attribute_mappings"`
}

// DatabaseConfig holds the findings database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
	// ScanWindow bounds how far back scans are expanded when no scan id is given.
	ScanWindow time.Duration `mapstructure:"scan_window" yaml:"scan_window"`
}

// TargetConfig selects and configures the bug tracker.
type TargetConfig struct {
	Type   string          `mapstructure:"type" yaml:"type"`
	SSC    SSCTargetConfig `mapstructure:"ssc" yaml:"ssc"`
	TFS    TFSConfig       `mapstructure:"tfs" yaml:"tfs"`
	GitHub GitHubConfig    `mapstructure:"github" yaml:"github"`
}

// SSCTargetConfig configures filing through an SSC-native bug tracker.
type SSCTargetConfig struct {
	// BugTrackerName is the short display name of the SSC bug tracker plugin.
	// Only application versions using it are processed.
	BugTrackerName string `mapstructure:"bug_tracker_name" yaml:"bug_tracker_name"`
}

// TFSConfig holds Azure DevOps / TFS settings.
type TFSConfig struct {
	URL          string        `mapstructure:"url" yaml:"url"`
	User         string        `mapstructure:"user" yaml:"user"`
	Password     string        `mapstructure:"password" yaml:"-"`
	Collection   string        `mapstructure:"collection" yaml:"collection"`
	Project      string        `mapstructure:"project" yaml:"project"`
	WorkItemType string        `mapstructure:"work_item_type" yaml:"work_item_type"`
	APIVersion   string        `mapstructure:"api_version" yaml:"api_version"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries" yaml:"max_retries"`
}

// GitHubConfig defines the configuration for GitHub issues.
type GitHubConfig struct {
	Token   string `mapstructure:"token" yaml:"-"`
	Owner   string `mapstructure:"owner" yaml:"owner"`
	Repo    string `mapstructure:"repo" yaml:"repo"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// FieldConfig is one rendered output field.
type FieldConfig struct {
	Name     string `mapstructure:"name" yaml:"name"`
	Template string `mapstructure:"template" yaml:"template"`
}

// ProcessingConfig configures grouping and field rendering.
type ProcessingConfig struct {
	GroupTemplate  string        `mapstructure:"group_template" yaml:"group_template"`
	Fields         []FieldConfig `mapstructure:"fields" yaml:"fields"`
	AppendedFields []FieldConfig `mapstructure:"appended_fields" yaml:"appended_fields"`
}

// StaticResolverConfig declares a resolver backed by a fixed list of
// default values and an optional per-value property table.
type StaticResolverConfig struct {
	Property string   `mapstructure:"property" yaml:"property"`
	Values   []string `mapstructure:"values" yaml:"values"`
	// Mappings maps a value to the properties it implies.
	Mappings []StaticMappingConfig `mapstructure:"mappings" yaml:"mappings"`
	Required bool                  `mapstructure:"required" yaml:"required"`
}

// StaticMappingConfig lists the properties implied by one resolver value. It
// is a list rather than a map so property names keep their case.
type StaticMappingConfig struct {
	Value      string           `mapstructure:"value" yaml:"value"`
	Properties []PropertyConfig `mapstructure:"properties" yaml:"properties"`
}

// PropertyConfig is one context property.
type PropertyConfig struct {
	Key   string `mapstructure:"key" yaml:"key"`
	Value string `mapstructure:"value" yaml:"value"`
}

// ResolversConfig configures the resolver chain.
type ResolversConfig struct {
	// Static resolvers run after the source's own resolvers, in order.
	Static []StaticResolverConfig `mapstructure:"static" yaml:"static"`
}

// EnvKeyReplacer maps configuration keys to environment variable suffixes.
func EnvKeyReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "bugsync")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Run --
	v.SetDefault("run.parallelism", 1)
	v.SetDefault("run.dry_run", false)
	v.SetDefault("run.update_existing", true)

	// -- Source --
	v.SetDefault("source.type", SourceSSC)
	v.SetDefault("source.ssc.timeout", "60s")
	v.SetDefault("source.ssc.rate_limit", 0.0)
	v.SetDefault("source.ssc.max_retries", 3)
	v.SetDefault("source.ssc.page_size", 200)
	v.SetDefault("source.database.scan_window", "720h")

	// -- Target --
	v.SetDefault("target.type", TargetTFS)
	v.SetDefault("target.tfs.work_item_type", "Bug")
	v.SetDefault("target.tfs.api_version", "6.0")
	v.SetDefault("target.tfs.timeout", "60s")
	v.SetDefault("target.tfs.max_retries", 3)
	v.SetDefault("target.github.base_url", "")

	// -- Processing --
	v.SetDefault("processing.group_template", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("source.ssc.token", "BUGSYNC_SSC_TOKEN")
	_ = v.BindEnv("source.ssc.password", "BUGSYNC_SSC_PASSWORD")
	_ = v.BindEnv("target.tfs.password", "BUGSYNC_TFS_PASSWORD")
	_ = v.BindEnv("target.github.token", "BUGSYNC_GITHUB_TOKEN", "GITHUB_TOKEN")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.LoggerCfg.LogFile != "" {
		path, err := homedir.Expand(cfg.LoggerCfg.LogFile)
		if err != nil {
			return nil, fmt.Errorf("failed to expand log file path: %w", err)
		}
		cfg.LoggerCfg.LogFile = path
	}

	cfg.contextLookup = func(key string) (any, bool) {
		k := "context." + key
		if !v.IsSet(k) {
			return nil, false
		}
		return v.Get(k), true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.RunCfg.Parallelism <= 0 {
		return fmt.Errorf("run.parallelism must be a positive integer")
	}
	switch c.SourceCfg.Type {
	case SourceSSC, SourceFindingsDB:
	default:
		return fmt.Errorf("source.type must be one of %s, %s (got %q)", SourceSSC, SourceFindingsDB, c.SourceCfg.Type)
	}
	switch c.TargetCfg.Type {
	case TargetSSC, TargetTFS, TargetGitHub:
	default:
		return fmt.Errorf("target.type must be one of %s, %s, %s (got %q)", TargetSSC, TargetTFS, TargetGitHub, c.TargetCfg.Type)
	}
	if c.TargetCfg.Type == TargetSSC {
		if c.SourceCfg.Type != SourceSSC {
			return fmt.Errorf("target.type %s requires source.type %s", TargetSSC, SourceSSC)
		}
		if strings.TrimSpace(c.TargetCfg.SSC.BugTrackerName) == "" {
			return fmt.Errorf("target.ssc.bug_tracker_name is required")
		}
	}
	if err := c.ProcessingCfg.Validate(); err != nil {
		return fmt.Errorf("processing configuration invalid: %w", err)
	}
	if err := c.ResolversCfg.Validate(); err != nil {
		return fmt.Errorf("resolvers configuration invalid: %w", err)
	}
	return nil
}

// Validate checks that every field has a name and a template.
func (p *ProcessingConfig) Validate() error {
	if len(p.Fields) == 0 {
		return fmt.Errorf("at least one field is required")
	}
	for _, set := range [][]FieldConfig{p.Fields, p.AppendedFields} {
		for i, f := range set {
			if f.Name == "" {
				return fmt.Errorf("field %d has no name", i)
			}
			if f.Template == "" {
				return fmt.Errorf("field %s has no template", f.Name)
			}
		}
	}
	return nil
}

// Validate checks static resolver declarations.
func (r *ResolversConfig) Validate() error {
	seen := make(map[string]bool)
	for i, s := range r.Static {
		if s.Property == "" {
			return fmt.Errorf("static resolver %d has no property", i)
		}
		if seen[s.Property] {
			return fmt.Errorf("static resolver for %s declared twice", s.Property)
		}
		seen[s.Property] = true
	}
	return nil
}
