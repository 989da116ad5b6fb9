package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full configuration surface. It is loaded once at startup and
// treated as immutable afterwards; components receive copies or read-only
// views, never a handle they can mutate.
type Config struct {
	Scope    ScopeConfig    `mapstructure:"scope"`
	Safety   SafetyConfig   `mapstructure:"safety"`
	Backends []Backend      `mapstructure:"backends"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Sessions SessionsConfig `mapstructure:"sessions"`
	Personas PersonasConfig `mapstructure:"personas"`
}

type ScopeConfig struct {
	AllowedIPs     []string `mapstructure:"allowed_ips"`
	AllowedDomains []string `mapstructure:"allowed_domains"`
	StrictMode     bool     `mapstructure:"strict_mode"`
}

type SafetyConfig struct {
	DangerousActions    []string      `mapstructure:"dangerous_actions"`
	ConfirmationTimeout time.Duration `mapstructure:"confirmation_timeout"`
}

// Backend describes one reasoning backend. Kind selects the transport:
// "http" talks to an OpenAI-compatible chat endpoint, "cli" shells out to a
// local command that prints the completion on stdout.
type Backend struct {
	Name     string        `mapstructure:"name"`
	Kind     string        `mapstructure:"kind"`
	BaseURL  string        `mapstructure:"base_url"`
	Command  string        `mapstructure:"command"`
	Model    string        `mapstructure:"model"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Priority int           `mapstructure:"priority"`
}

type DispatchConfig struct {
	Workers       int           `mapstructure:"workers"`
	ActionTimeout time.Duration `mapstructure:"action_timeout"`
}

type SessionsConfig struct {
	Dir string `mapstructure:"dir"`
}

type PersonasConfig struct {
	Dir string `mapstructure:"dir"`
}

const envPrefix = "KALIAI"

// Load reads configuration from path (or the default search locations when
// path is empty), layered over built-in defaults and KALIAI_* environment
// variables. A missing config file is not an error; missing required values
// after layering is.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".kaliai"))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing file in the default search paths falls back to defaults;
		// an explicitly named file must exist.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scope.strict_mode", true)
	v.SetDefault("safety.dangerous_actions", []string{"exploit", "payload", "inject"})
	v.SetDefault("safety.confirmation_timeout", "300s")
	v.SetDefault("dispatch.workers", 4)
	v.SetDefault("dispatch.action_timeout", "120s")

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	v.SetDefault("sessions.dir", filepath.Join(home, ".kaliai", "sessions"))
	v.SetDefault("personas.dir", filepath.Join(home, ".kaliai", "personas"))
}

func Validate(cfg Config) error {
	if cfg.Safety.ConfirmationTimeout <= 0 {
		return fmt.Errorf("safety.confirmation_timeout must be > 0")
	}
	if cfg.Dispatch.Workers <= 0 {
		return fmt.Errorf("dispatch.workers must be > 0")
	}
	if cfg.Dispatch.ActionTimeout <= 0 {
		return fmt.Errorf("dispatch.action_timeout must be > 0")
	}
	seen := map[string]struct{}{}
	for _, backend := range cfg.Backends {
		if backend.Name == "" {
			return fmt.Errorf("backend name is required")
		}
		if _, dup := seen[backend.Name]; dup {
			return fmt.Errorf("duplicate backend name: %s", backend.Name)
		}
		seen[backend.Name] = struct{}{}
		switch backend.Kind {
		case "http":
			if backend.BaseURL == "" {
				return fmt.Errorf("backend %s: base_url is required for kind http", backend.Name)
			}
		case "cli":
			if backend.Command == "" {
				return fmt.Errorf("backend %s: command is required for kind cli", backend.Name)
			}
		default:
			return fmt.Errorf("backend %s: unknown kind %q", backend.Name, backend.Kind)
		}
		if backend.Timeout <= 0 {
			return fmt.Errorf("backend %s: timeout must be > 0", backend.Name)
		}
	}
	return nil
}
