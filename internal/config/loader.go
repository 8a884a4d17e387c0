package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of configuration environment variables.
const EnvPrefix = "BENCHDIAG"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: EnvPrefix,
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: EnvPrefix,
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (BENCHDIAG_*)
// 3. Project config (.benchdiag.yaml in current directory)
// 4. User config (~/.config/benchdiag/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".benchdiag")
		l.v.SetConfigType("yaml")

		// First found wins: project config shadows user config.
		l.v.AddConfigPath(".")
		if dir, err := UserConfigDir(); err == nil {
			l.v.AddConfigPath(dir)
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// The user config file is named config.yaml, not .benchdiag.yaml.
		if l.configFile == "" {
			if path, err := UserConfigPath(); err == nil && fileExists(path) {
				l.v.SetConfigFile(path)
				if err := l.v.ReadInConfig(); err != nil {
					return nil, fmt.Errorf("reading user config: %w", err)
				}
			}
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("artifacts.dir", ".benchdiag/artifacts")
	l.v.SetDefault("artifacts.max_path", 0)
	l.v.SetDefault("artifacts.index.backend", "sqlite")
	l.v.SetDefault("artifacts.index.path", ".benchdiag/index.db")

	l.v.SetDefault("diagnosers", []string{"memory", "threading"})
	l.v.SetDefault("show_columns", []string{})
	l.v.SetDefault("exporters", []string{})

	l.v.SetDefault("profiler.ready_timeout", "30s")
	l.v.SetDefault("profiler.stop_timeout", "30s")
	l.v.SetDefault("profiler.tools_dir", ".benchdiag/tools")
	l.v.SetDefault("profiler.convert", true)

	l.v.SetDefault("hostload.interval", "250ms")

	l.v.SetDefault("worker.command", []string{})
	l.v.SetDefault("worker.timeout", "5m")
	l.v.SetDefault("worker.operations", 10000)
	l.v.SetDefault("worker.toolchains", []string{})

	l.v.SetDefault("crash_dumps.enabled", true)
	l.v.SetDefault("crash_dumps.dir", ".benchdiag/crashdumps")
	l.v.SetDefault("crash_dumps.max_files", 10)
	l.v.SetDefault("crash_dumps.include_stack", true)
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Get returns a configuration value by key.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// Set sets a configuration value.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}
