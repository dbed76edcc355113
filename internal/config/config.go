package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config application configuration structure
type Config struct {
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Project ProjectConfig `yaml:"project" mapstructure:"project"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Forward ForwardConfig `yaml:"forward" mapstructure:"forward"`
	Cookies CookieConfig  `yaml:"cookies" mapstructure:"cookies"`
	Web     WebConfig     `yaml:"web" mapstructure:"web"`
	Output  OutputConfig  `yaml:"output" mapstructure:"output"`
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`
}

// ServerConfig settings shared by every mock server engine
type ServerConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	// MaxBodyBytes limits the size of accepted request bodies (0 = unlimited)
	MaxBodyBytes    int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	// FunctionTimeout bounds a single executable response run
	FunctionTimeout time.Duration `yaml:"function_timeout" mapstructure:"function_timeout"`
}

// ProjectConfig selects the project file and the server to start
type ProjectConfig struct {
	File   string `yaml:"file" mapstructure:"file"`
	ID     string `yaml:"id" mapstructure:"id"`
	Server string `yaml:"server" mapstructure:"server"`
}

// LogConfig log configuration
type LogConfig struct {
	Level       string        `yaml:"level" mapstructure:"level"`
	FileLogging FileLogConfig `yaml:"file_logging" mapstructure:"file_logging"`
}

// FileLogConfig file log configuration
type FileLogConfig struct {
	Enable     bool   `yaml:"enable" mapstructure:"enable"`
	Path       string `yaml:"path" mapstructure:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

// ForwardConfig upstream transport configuration
type ForwardConfig struct {
	Timeout               int                       `yaml:"timeout" mapstructure:"timeout"`
	MaxConcurrent         int                       `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	MaxIdleConns          int                       `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost   int                       `yaml:"max_idle_conns_per_host" mapstructure:"max_idle_conns_per_host"`
	MaxConnsPerHost       int                       `yaml:"max_conns_per_host" mapstructure:"max_conns_per_host"`
	IdleConnTimeout       int                       `yaml:"idle_conn_timeout" mapstructure:"idle_conn_timeout"`
	ResponseHeaderTimeout int                       `yaml:"response_header_timeout" mapstructure:"response_header_timeout"`
	TLSHandshakeTimeout   int                       `yaml:"tls_handshake_timeout" mapstructure:"tls_handshake_timeout"`
	ExpectContinueTimeout int                       `yaml:"expect_continue_timeout" mapstructure:"expect_continue_timeout"`
	TLSInsecureSkipVerify bool                      `yaml:"tls_insecure_skip_verify" mapstructure:"tls_insecure_skip_verify"`
	PathStrategy          ForwardPathStrategyConfig `yaml:"path_strategy" mapstructure:"path_strategy"`
	HeaderBlacklist       []string                  `yaml:"header_blacklist" mapstructure:"header_blacklist"`
}

// ForwardPathStrategyConfig configures how upstream paths are constructed
type ForwardPathStrategyConfig struct {
	Mode        string                     `yaml:"mode" mapstructure:"mode"`
	StripPrefix string                     `yaml:"strip_prefix" mapstructure:"strip_prefix"`
	Rules       []ForwardRewriteRuleConfig `yaml:"rules" mapstructure:"rules"`
}

// ForwardRewriteRuleConfig defines a rewrite rule when mode is rewrite
type ForwardRewriteRuleConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Match   string `yaml:"match" mapstructure:"match"`
	Replace string `yaml:"replace" mapstructure:"replace"`
	Regex   bool   `yaml:"regex" mapstructure:"regex"`
}

// CookieConfig cookie rewriting rules applied to upstream replies
type CookieConfig struct {
	DomainRules []CookieDomainRule `yaml:"domain_rules" mapstructure:"domain_rules"`
}

// CookieDomainRule maps an upstream cookie domain to a replacement.
// Match "*" applies to any domain no other rule matched.
type CookieDomainRule struct {
	Match   string `yaml:"match" mapstructure:"match"`
	Replace string `yaml:"replace" mapstructure:"replace"`
}

// WebConfig admin API configuration
type WebConfig struct {
	Enable    bool   `yaml:"enable" mapstructure:"enable"`
	Port      int    `yaml:"port" mapstructure:"port"`
	Path      string `yaml:"path" mapstructure:"path"`
	MaxEvents int    `yaml:"max_events" mapstructure:"max_events"`
}

// OutputConfig controls CLI output style
type OutputConfig struct {
	Mode    string `yaml:"mode" mapstructure:"mode"`
	Silence bool   `yaml:"silence" mapstructure:"silence"`
}

// StorageConfig event persistence parameters
type StorageConfig struct {
	Enable     bool          `yaml:"enable" mapstructure:"enable"`
	Path       string        `yaml:"path" mapstructure:"path"`
	MaxRecords int           `yaml:"max_records" mapstructure:"max_records"`
	Retention  time.Duration `yaml:"retention" mapstructure:"retention"`
}

// LoadConfig load configuration
// If v is nil, a new viper instance will be created
func LoadConfig(configPath string, v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	setDefaults(v)

	v.SetEnvPrefix("MOCKTAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.mocktap")
		v.AddConfigPath("/etc/mocktap")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		log.Printf("Config file loaded: %s", v.ConfigFileUsed())
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Unmarshal leaves zero values alone; fill them from viper so flags bound
	// in main.go still take priority.
	applyDefaults(&config, v)

	return &config, nil
}

// applyDefaults apply default values to zero-value fields in the struct
func applyDefaults(cfg *Config, v *viper.Viper) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = v.GetString("server.host")
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = v.GetInt64("server.max_body_bytes")
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = v.GetDuration("server.read_timeout")
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = v.GetDuration("server.write_timeout")
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = v.GetDuration("server.shutdown_timeout")
	}
	if cfg.Server.FunctionTimeout == 0 {
		cfg.Server.FunctionTimeout = v.GetDuration("server.function_timeout")
	}

	if cfg.Project.File == "" {
		cfg.Project.File = v.GetString("project.file")
	}
	if cfg.Project.ID == "" {
		cfg.Project.ID = v.GetString("project.id")
	}
	if cfg.Project.Server == "" {
		cfg.Project.Server = v.GetString("project.server")
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = v.GetString("log.level")
	}
	// Bools always come from viper, which already merges file values and defaults.
	cfg.Log.FileLogging.Enable = v.GetBool("log.file_logging.enable")
	cfg.Log.FileLogging.Compress = v.GetBool("log.file_logging.compress")
	if cfg.Log.FileLogging.Path == "" {
		cfg.Log.FileLogging.Path = v.GetString("log.file_logging.path")
	}
	if cfg.Log.FileLogging.MaxSizeMB == 0 {
		cfg.Log.FileLogging.MaxSizeMB = v.GetInt("log.file_logging.max_size_mb")
	}
	if cfg.Log.FileLogging.MaxBackups == 0 {
		cfg.Log.FileLogging.MaxBackups = v.GetInt("log.file_logging.max_backups")
	}
	if cfg.Log.FileLogging.MaxAgeDays == 0 {
		cfg.Log.FileLogging.MaxAgeDays = v.GetInt("log.file_logging.max_age_days")
	}

	if cfg.Output.Mode == "" {
		cfg.Output.Mode = v.GetString("output.mode")
	}
	cfg.Output.Silence = v.GetBool("output.silence")

	if cfg.Forward.Timeout == 0 {
		cfg.Forward.Timeout = v.GetInt("forward.timeout")
	}
	if cfg.Forward.MaxConcurrent == 0 {
		cfg.Forward.MaxConcurrent = v.GetInt("forward.max_concurrent")
	}
	if cfg.Forward.MaxIdleConns == 0 {
		cfg.Forward.MaxIdleConns = v.GetInt("forward.max_idle_conns")
	}
	if cfg.Forward.MaxIdleConnsPerHost == 0 {
		cfg.Forward.MaxIdleConnsPerHost = v.GetInt("forward.max_idle_conns_per_host")
	}
	if cfg.Forward.MaxConnsPerHost == 0 {
		cfg.Forward.MaxConnsPerHost = v.GetInt("forward.max_conns_per_host")
	}
	if cfg.Forward.IdleConnTimeout == 0 {
		cfg.Forward.IdleConnTimeout = v.GetInt("forward.idle_conn_timeout")
	}
	if cfg.Forward.ResponseHeaderTimeout == 0 {
		cfg.Forward.ResponseHeaderTimeout = v.GetInt("forward.response_header_timeout")
	}
	if cfg.Forward.TLSHandshakeTimeout == 0 {
		cfg.Forward.TLSHandshakeTimeout = v.GetInt("forward.tls_handshake_timeout")
	}
	if cfg.Forward.ExpectContinueTimeout == 0 {
		cfg.Forward.ExpectContinueTimeout = v.GetInt("forward.expect_continue_timeout")
	}
	if cfg.Forward.PathStrategy.Mode == "" {
		cfg.Forward.PathStrategy.Mode = v.GetString("forward.path_strategy.mode")
	}
	if cfg.Forward.PathStrategy.StripPrefix == "" {
		cfg.Forward.PathStrategy.StripPrefix = v.GetString("forward.path_strategy.strip_prefix")
	}
	if len(cfg.Forward.PathStrategy.Rules) == 0 {
		var rules []ForwardRewriteRuleConfig
		if err := v.UnmarshalKey("forward.path_strategy.rules", &rules); err == nil {
			cfg.Forward.PathStrategy.Rules = rules
		}
	}
	if len(cfg.Forward.HeaderBlacklist) == 0 {
		cfg.Forward.HeaderBlacklist = v.GetStringSlice("forward.header_blacklist")
	}
	cfg.Forward.HeaderBlacklist = normalizeHeaderList(cfg.Forward.HeaderBlacklist)
	cfg.Forward.TLSInsecureSkipVerify = v.GetBool("forward.tls_insecure_skip_verify")

	if len(cfg.Cookies.DomainRules) == 0 {
		var rules []CookieDomainRule
		if err := v.UnmarshalKey("cookies.domain_rules", &rules); err == nil {
			cfg.Cookies.DomainRules = rules
		}
	}

	cfg.Web.Enable = v.GetBool("web.enable")
	if cfg.Web.Port == 0 {
		cfg.Web.Port = v.GetInt("web.port")
	}
	if cfg.Web.Path == "" {
		cfg.Web.Path = v.GetString("web.path")
	}
	if cfg.Web.MaxEvents == 0 {
		cfg.Web.MaxEvents = v.GetInt("web.max_events")
	}

	cfg.Storage.Enable = v.GetBool("storage.enable")
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = v.GetString("storage.path")
	}
	if cfg.Storage.MaxRecords == 0 {
		cfg.Storage.MaxRecords = v.GetInt("storage.max_records")
	}
	if cfg.Storage.Retention == 0 {
		cfg.Storage.Retention = v.GetDuration("storage.retention")
	}
}

// setDefaults set default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.max_body_bytes", int64(10*1024*1024))
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("server.function_timeout", "2s")

	v.SetDefault("project.file", "./mocktap.yaml")
	v.SetDefault("project.id", "default")
	v.SetDefault("project.server", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file_logging.enable", false)
	v.SetDefault("log.file_logging.path", "./mocktap.log")
	v.SetDefault("log.file_logging.max_size_mb", 10)
	v.SetDefault("log.file_logging.max_backups", 5)
	v.SetDefault("log.file_logging.max_age_days", 30)
	v.SetDefault("log.file_logging.compress", true)

	v.SetDefault("forward.timeout", 30)
	v.SetDefault("forward.max_concurrent", 32)
	v.SetDefault("forward.max_idle_conns", 200)
	v.SetDefault("forward.max_idle_conns_per_host", 50)
	v.SetDefault("forward.max_conns_per_host", 100)
	v.SetDefault("forward.idle_conn_timeout", 90)
	v.SetDefault("forward.response_header_timeout", 15)
	v.SetDefault("forward.tls_handshake_timeout", 10)
	v.SetDefault("forward.expect_continue_timeout", 1)
	v.SetDefault("forward.tls_insecure_skip_verify", false)
	v.SetDefault("forward.path_strategy.mode", "append")
	v.SetDefault("forward.path_strategy.strip_prefix", "")
	v.SetDefault("forward.path_strategy.rules", []map[string]string{})
	v.SetDefault("forward.header_blacklist", []string{
		"host",
		"connection",
		"keep-alive",
		"proxy-authenticate",
		"proxy-authorization",
		"te",
		"trailers",
		"transfer-encoding",
		"upgrade",
		"content-length",
	})

	v.SetDefault("cookies.domain_rules", []map[string]string{})

	v.SetDefault("web.enable", false)
	v.SetDefault("web.port", 38889)
	v.SetDefault("web.path", "/api")
	v.SetDefault("web.max_events", 500)

	v.SetDefault("output.mode", "console")
	v.SetDefault("output.silence", false)

	v.SetDefault("storage.enable", false)
	v.SetDefault("storage.path", "./data/mocktap.db")
	v.SetDefault("storage.max_records", 100000)
	v.SetDefault("storage.retention", "0s")
}

// Validate checks the configuration and normalizes enum values
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("server max body bytes cannot be negative")
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server timeouts cannot be negative")
	}
	if c.Server.FunctionTimeout < 0 {
		return fmt.Errorf("server function timeout cannot be negative")
	}

	if strings.TrimSpace(c.Project.File) == "" {
		return fmt.Errorf("project file cannot be empty")
	}

	switch strings.ToLower(c.Output.Mode) {
	case "", "console", "json":
		if c.Output.Mode == "" {
			c.Output.Mode = "console"
		}
		c.Output.Mode = strings.ToLower(c.Output.Mode)
	default:
		return fmt.Errorf("output mode must be 'console' or 'json'")
	}

	if c.Storage.Enable {
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage path cannot be empty")
		}
		if c.Storage.MaxRecords < 0 {
			return fmt.Errorf("storage max_records cannot be negative")
		}
		if c.Storage.Retention < 0 {
			return fmt.Errorf("storage retention cannot be negative")
		}
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	if c.Log.FileLogging.Enable {
		if c.Log.FileLogging.Path == "" {
			return fmt.Errorf("log file path cannot be empty when file logging is enabled")
		}
		if c.Log.FileLogging.MaxSizeMB < 1 {
			return fmt.Errorf("log file max size must be at least 1MB")
		}
		if c.Log.FileLogging.MaxBackups < 0 {
			return fmt.Errorf("log file max backups cannot be negative")
		}
		if c.Log.FileLogging.MaxAgeDays < 0 {
			return fmt.Errorf("log file max age cannot be negative")
		}
	}

	if c.Forward.Timeout < 0 {
		return fmt.Errorf("forward timeout cannot be negative")
	}
	if c.Forward.MaxConcurrent < 1 {
		return fmt.Errorf("forward max concurrent must be at least 1")
	}
	switch strings.ToLower(c.Forward.PathStrategy.Mode) {
	case "", "append", "strip_prefix", "rewrite":
		if c.Forward.PathStrategy.Mode == "" {
			c.Forward.PathStrategy.Mode = "append"
		}
	default:
		return fmt.Errorf("forward path strategy mode must be append, strip_prefix, or rewrite")
	}
	if strings.ToLower(c.Forward.PathStrategy.Mode) == "rewrite" {
		if len(c.Forward.PathStrategy.Rules) == 0 {
			return fmt.Errorf("forward path strategy rules cannot be empty when mode is rewrite")
		}
		for i, rule := range c.Forward.PathStrategy.Rules {
			if rule.Match == "" {
				return fmt.Errorf("forward path rule %d match cannot be empty", i+1)
			}
		}
	}
	for i, h := range c.Forward.HeaderBlacklist {
		if strings.TrimSpace(h) == "" {
			return fmt.Errorf("forward header_blacklist[%d] cannot be empty", i)
		}
	}

	for i, rule := range c.Cookies.DomainRules {
		if strings.TrimSpace(rule.Match) == "" {
			return fmt.Errorf("cookie domain rule %d match cannot be empty", i+1)
		}
	}

	if c.Web.Enable {
		if c.Web.Port < 1 || c.Web.Port > 65535 {
			return fmt.Errorf("invalid web port: %d (must be 1-65535)", c.Web.Port)
		}
		if c.Web.Path == "" {
			return fmt.Errorf("web path cannot be empty")
		}
		if !strings.HasPrefix(c.Web.Path, "/") {
			return fmt.Errorf("web path must start with '/'")
		}
		if c.Web.MaxEvents < 1 {
			return fmt.Errorf("web max events must be at least 1")
		}
	}

	return nil
}

func normalizeHeaderList(list []string) []string {
	if len(list) == 0 {
		return list
	}
	set := make(map[string]struct{}, len(list))
	result := make([]string, 0, len(list))
	for _, h := range list {
		norm := strings.ToLower(strings.TrimSpace(h))
		if norm == "" {
			continue
		}
		if _, exists := set[norm]; exists {
			continue
		}
		set[norm] = struct{}{}
		result = append(result, norm)
	}
	return result
}
