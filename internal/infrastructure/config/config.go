// Package config loads the application's layered configuration:
// compiled-in defaults, then an optional global config file, then a
// project-local override, then environment variables, each layer only
// raising priority over the last.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration object.
type Config struct {
	AI         AIConfig         `mapstructure:"ai"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Log        LogConfig        `mapstructure:"log"`
	Retry      RetryConfig      `mapstructure:"retry"`
	ToolEngine ToolEngineConfig `mapstructure:"tool_engine"`
	Workspace  string           `mapstructure:"workspace"`
}

// AIConfig selects and authenticates the target provider.
type AIConfig struct {
	Model          string  `mapstructure:"model"`
	Provider       string  `mapstructure:"provider"` // openai | bedrock-anthropic
	APIKey         string  `mapstructure:"api_key"`  // OPENAI_API_KEY-equivalent
	BaseURL        string  `mapstructure:"base_url"`
	Region         string  `mapstructure:"region"`          // Bedrock region
	CredentialFile string  `mapstructure:"credential_file"` // ~/.aws/credentials
	Profile        string  `mapstructure:"profile"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	Temperature    float64 `mapstructure:"temperature"`
}

// DatabaseConfig locates the audit log: CLAUDE_C_DB_PATH wins outright;
// otherwise the fallback chain in ResolveDBPath is walked in order.
// Rotation knobs trim the table by age, count, and size.
type DatabaseConfig struct {
	Path       string `mapstructure:"path"`
	MaxDays    int    `mapstructure:"max_days"`
	MaxRecords int    `mapstructure:"max_records"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
}

// LogConfig configures zap (see internal/infrastructure/logger).
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// RetryConfig is the provider pipeline's retry/backoff policy.
type RetryConfig struct {
	MaxAttempts   int     `mapstructure:"max_attempts"`
	BaseDelayMS   int     `mapstructure:"base_delay_ms"`
	Multiplier    float64 `mapstructure:"multiplier"`
	MaxDelayMS    int     `mapstructure:"max_delay_ms"`
	JitterEnabled bool    `mapstructure:"jitter_enabled"`
}

// ToolEngineConfig bounds the tool execution engine.
type ToolEngineConfig struct {
	MaxParallel    int           `mapstructure:"max_parallel"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// AppName names the on-disk config directory under the user's home.
const AppName = "claude-c-sub003"

// Load layers defaults, ~/.claude-c-sub003/config.yaml, the first of
// ./config/config.yaml or ./config.yaml that exists, then environment
// variables with the CLAUDE_C_ prefix.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	home, _ := os.UserHomeDir()
	v.AddConfigPath(filepath.Join(home, "."+AppName))
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read global config: %w", err)
		}
	}

	for _, dir := range []string{"./config", "."} {
		local := filepath.Join(dir, "config.yaml")
		if _, err := os.Stat(local); err == nil {
			lv := viper.New()
			lv.SetConfigFile(local)
			if err := lv.ReadInConfig(); err == nil {
				_ = v.MergeConfigMap(lv.AllSettings())
			}
			break
		}
	}

	v.SetEnvPrefix("CLAUDE_C")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = ResolveDBPath(os.Getenv("CLAUDE_C_DB_PATH"))
	}
	return &cfg, nil
}

// bindEnv wires the environment variables whose names don't follow the
// CLAUDE_C_<section>_<key> pattern AutomaticEnv derives automatically.
func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("ai.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("database.path", "CLAUDE_C_DB_PATH")
	_ = v.BindEnv("database.max_days", "CLAUDE_C_DB_MAX_DAYS")
	_ = v.BindEnv("database.max_records", "CLAUDE_C_DB_MAX_RECORDS")
	_ = v.BindEnv("database.max_size_mb", "CLAUDE_C_DB_MAX_SIZE_MB")
}

// ResolveDBPath walks the audit-DB fallback chain: an explicit override
// wins outright; otherwise the first creatable location among
// ./.claude-c/, $XDG_DATA_HOME/claude-c-sub003/,
// ~/.local/share/claude-c-sub003/, ./ is used.
func ResolveDBPath(override string) string {
	if override != "" {
		return override
	}
	home, _ := os.UserHomeDir()
	xdg := os.Getenv("XDG_DATA_HOME")
	if xdg == "" {
		xdg = filepath.Join(home, ".local", "share")
	}
	candidates := []string{
		filepath.Join(".claude-c", "audit.db"),
		filepath.Join(xdg, AppName, "audit.db"),
		filepath.Join(home, ".local", "share", AppName, "audit.db"),
		"audit.db",
	}
	for _, c := range candidates {
		dir := filepath.Dir(c)
		if dir == "." {
			return c
		}
		if err := os.MkdirAll(dir, 0755); err == nil {
			return c
		}
	}
	return candidates[len(candidates)-1]
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.max_tokens", 8192)
	v.SetDefault("ai.temperature", 0.2)
	v.SetDefault("ai.credential_file", filepath.Join(os.Getenv("HOME"), ".aws", "credentials"))
	v.SetDefault("ai.profile", "default")

	v.SetDefault("database.max_days", 90)
	v.SetDefault("database.max_records", 100000)
	v.SetDefault("database.max_size_mb", 500)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output_path", "stderr")

	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.base_delay_ms", 1000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.max_delay_ms", 30000)
	v.SetDefault("retry.jitter_enabled", true)

	v.SetDefault("tool_engine.max_parallel", 8)
	v.SetDefault("tool_engine.default_timeout", "120s")
}
