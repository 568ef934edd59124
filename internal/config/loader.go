package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the optional configuration file name.
	ConfigFileName = "plexup.yaml"
	// EnvPrefix is the prefix for all environment variables, shared with
	// the client library under test.
	EnvPrefix = "PLEXAPI"
)

// Loader handles loading and merging of plexup configuration.
type Loader struct {
	workDir string
	viper   *viper.Viper
}

// NewLoader creates a configuration loader for the given working directory.
func NewLoader(workDir string) *Loader {
	return &Loader{
		workDir: workDir,
		viper:   viper.New(),
	}
}

// Load merges defaults, the optional plexup.yaml, and PLEXAPI_* environment
// variables (highest precedence) into a Config.
func (l *Loader) Load() (*Config, error) {
	v := l.viper

	defaults := DefaultConfig()
	v.SetDefault("server.baseurl", defaults.Server.BaseURL)
	v.SetDefault("server.timeout", defaults.Server.Timeout)
	v.SetDefault("auth.account_url", defaults.Auth.AccountURL)
	// Empty defaults so AutomaticEnv can see keys with no built-in value.
	v.SetDefault("auth.token", "")
	v.SetDefault("header.identifier", "")
	v.SetDefault("header.product", defaults.Header.Product)
	v.SetDefault("header.platform", defaults.Header.Platform)
	v.SetDefault("header.platform_version", defaults.Header.PlatformVersion)
	v.SetDefault("header.device", defaults.Header.Device)
	v.SetDefault("header.provides", defaults.Header.Provides)
	v.SetDefault("docker.repository", defaults.Docker.Repository)
	v.SetDefault("docker.tag", defaults.Docker.Tag)
	v.SetDefault("docker.host_port", defaults.Docker.HostPort)
	v.SetDefault("docker.cache_dir", defaults.Docker.CacheDir)
	v.SetDefault("bootstrap.attempts", defaults.Bootstrap.Attempts)
	v.SetDefault("bootstrap.attempt_timeout", defaults.Bootstrap.AttemptTimeout)
	v.SetDefault("bootstrap.timeout", defaults.Bootstrap.Timeout)
	v.SetDefault("coverage.artifact_dir", defaults.Coverage.ArtifactDir)
	v.SetDefault("coverage.threshold", defaults.Coverage.Threshold)
	v.SetDefault("test.packages", defaults.Test.Packages)
	v.SetDefault("test.include_sync", defaults.Test.IncludeSync)

	// Env vars: PLEXAPI_SERVER_BASEURL, PLEXAPI_AUTH_TOKEN, PLEXAPI_HEADER_PLATFORM, ...
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := filepath.Join(l.workDir, ConfigFileName)
	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	return &cfg, nil
}
