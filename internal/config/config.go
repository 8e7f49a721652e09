package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefix for environment variable overrides, e.g. COMFYBATCH_SERVER_URL
const EnvPrefix = "COMFYBATCH"

// Config application configuration
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Retry  RetryConfig  `mapstructure:"retry"`
	Poll   PollConfig   `mapstructure:"poll"`
	Batch  BatchConfig  `mapstructure:"batch"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Status StatusConfig `mapstructure:"status"`
	Log    LogConfig    `mapstructure:"log"`
}

// ServerConfig remote generation server configuration
type ServerConfig struct {
	URL            string        `mapstructure:"url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// RetryConfig retry policy applied to every outbound request
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"` // total attempts per request
	Delay      time.Duration `mapstructure:"delay"`       // fixed wait between attempts
}

// PollConfig completion poller configuration
type PollConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"` // 0 waits forever
}

// BatchConfig batch driver configuration
type BatchConfig struct {
	WorkflowDir     string `mapstructure:"workflow_dir"`
	ImageDir        string `mapstructure:"image_dir"`
	OutputDir       string `mapstructure:"output_dir"`
	LogDir          string `mapstructure:"log_dir"`
	QuarantineDir   string `mapstructure:"quarantine_dir"`
	ErrorLog        string `mapstructure:"error_log"`
	UploadSubfolder string `mapstructure:"upload_subfolder"`
	Overwrite       bool   `mapstructure:"overwrite"`
	LeftDir         string `mapstructure:"left_dir"`
}

// RedisConfig Redis configuration, progress mirroring is disabled when Host is empty
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StatusConfig status API configuration, disabled when Addr is empty
type StatusConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// SetDefaults registers the default value of every key on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.url", "")
	v.SetDefault("server.request_timeout", 10*time.Second)

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.delay", 3*time.Second)

	v.SetDefault("poll.interval", 3*time.Second)
	v.SetDefault("poll.timeout", time.Duration(0))

	v.SetDefault("batch.workflow_dir", "")
	v.SetDefault("batch.image_dir", "")
	v.SetDefault("batch.output_dir", "out")
	v.SetDefault("batch.log_dir", ".")
	v.SetDefault("batch.quarantine_dir", "error_workflow")
	v.SetDefault("batch.error_log", "error_workflows.csv")
	v.SetDefault("batch.upload_subfolder", "")
	v.SetDefault("batch.overwrite", true)
	v.SetDefault("batch.left_dir", "workflow_left")

	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("status.addr", "")

	v.SetDefault("log.level", "info")
}

// Load loads configuration from defaults, the optional config file and the environment
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	cfg.Server.URL = strings.TrimSuffix(strings.TrimSpace(cfg.Server.URL), "/")
	return &cfg, nil
}

// Validate validates the settings the batch driver depends on
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return ErrServerURLRequired
	}
	if c.Batch.WorkflowDir == "" {
		return ErrWorkflowDirRequired
	}
	if c.Retry.MaxRetries < 1 {
		return ErrMaxRetriesInvalid
	}
	if c.Retry.Delay < 0 {
		return ErrRetryDelayInvalid
	}
	if c.Poll.Interval <= 0 {
		return ErrPollIntervalInvalid
	}
	if c.Poll.Timeout < 0 {
		return ErrPollTimeoutInvalid
	}
	return nil
}

// Enabled reports whether progress should be mirrored into Redis
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

// Addr Redis address in host:port form
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// configuration validation errors
var (
	ErrServerURLRequired   = fmt.Errorf("server URL is required")
	ErrWorkflowDirRequired = fmt.Errorf("workflow directory is required")
	ErrMaxRetriesInvalid   = fmt.Errorf("max retries must be at least 1")
	ErrRetryDelayInvalid   = fmt.Errorf("retry delay must not be negative")
	ErrPollIntervalInvalid = fmt.Errorf("poll interval must be positive")
	ErrPollTimeoutInvalid  = fmt.Errorf("poll timeout must not be negative")
)
