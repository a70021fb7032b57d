// Package appconfig loads process-wide settings for the sift CLI.
//
// Precedence, highest first: SIFT_* environment variables, the YAML file
// (default ~/.config/sift/config.yaml), built-in defaults.
//
//	SIFT_PROJECTS_ROOT -> projects_root
//	SIFT_LOCK_TIMEOUT  -> lock_timeout
//	SIFT_LOG_LEVEL     -> log.level
//	SIFT_CACHE_ENABLED -> cache.enabled
package appconfig

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix         = "SIFT_"
	maxConfigFileSize = 1024 * 1024
)

type Config struct {
	ProjectsRoot string        `koanf:"projects_root"`
	LockTimeout  time.Duration `koanf:"lock_timeout"`
	Log          LogConfig     `koanf:"log"`
	Cache        CacheConfig   `koanf:"cache"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type CacheConfig struct {
	Enabled bool `koanf:"enabled"`
}

func Defaults() Config {
	root := ".sift"
	if home, err := os.UserHomeDir(); err == nil {
		root = filepath.Join(home, ".sift")
	}
	return Config{
		ProjectsRoot: root,
		LockTimeout:  3 * time.Second,
		Log:          LogConfig{Level: "info", Format: "console"},
		Cache:        CacheConfig{Enabled: true},
	}
}

// DefaultPath returns ~/.config/sift/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "sift", "config.yaml"), nil
}

// Load reads configPath, applies environment overrides and validates the
// result. An empty configPath means DefaultPath, which may be absent; an
// explicit path must exist.
func Load(configPath string) (Config, error) {
	defaults := Defaults()
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(defaultsYAML(defaults)), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	optional := false
	if strings.TrimSpace(configPath) == "" {
		path, err := DefaultPath()
		if err != nil {
			return Config{}, err
		}
		configPath = path
		optional = true
	}
	content, err := readConfigFile(configPath, optional)
	if err != nil {
		return Config{}, err
	}
	if len(content) > 0 {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	config.normalize()
	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

func (config Config) Validate() error {
	if config.ProjectsRoot == "" {
		return fmt.Errorf("projects_root is required")
	}
	if config.LockTimeout <= 0 {
		return fmt.Errorf("lock_timeout must be positive")
	}
	switch config.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console")
	}
	return nil
}

func (config *Config) normalize() {
	config.ProjectsRoot = strings.TrimSpace(config.ProjectsRoot)
	if strings.HasPrefix(config.ProjectsRoot, "~"+string(filepath.Separator)) {
		if home, err := os.UserHomeDir(); err == nil {
			config.ProjectsRoot = filepath.Join(home, config.ProjectsRoot[2:])
		}
	}
	config.Log.Level = strings.ToLower(strings.TrimSpace(config.Log.Level))
	config.Log.Format = strings.ToLower(strings.TrimSpace(config.Log.Format))
}

func readConfigFile(path string, optional bool) ([]byte, error) {
	// #nosec G304 -- config path is explicit local user input.
	file, err := os.Open(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()
	content, err := io.ReadAll(io.LimitReader(file, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(content) > maxConfigFileSize {
		return nil, fmt.Errorf("config file exceeds %d bytes", maxConfigFileSize)
	}
	return content, nil
}

// envKey maps SIFT_LOG_LEVEL to log.level; unsectioned keys keep their
// underscores (SIFT_PROJECTS_ROOT -> projects_root).
func envKey(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, envPrefix))
	for _, section := range []string{"log", "cache"} {
		if strings.HasPrefix(key, section+"_") {
			return section + "." + strings.TrimPrefix(key, section+"_")
		}
	}
	return key
}

func defaultsYAML(config Config) []byte {
	return []byte(fmt.Sprintf(
		"projects_root: %q\nlock_timeout: %q\nlog:\n  level: %q\n  format: %q\ncache:\n  enabled: %t\n",
		config.ProjectsRoot,
		config.LockTimeout.String(),
		config.Log.Level,
		config.Log.Format,
		config.Cache.Enabled,
	))
}
