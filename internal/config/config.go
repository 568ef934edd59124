// Package config loads plexup configuration from the environment and an
// optional plexup.yaml file. Environment variables use the PLEXAPI prefix so
// the same variables drive both this tool and the client library under test.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// ClaimState identifies one matrix leg of the test pipeline.
type ClaimState string

const (
	// Unclaimed is a server with no account binding; limited API surface.
	Unclaimed ClaimState = "unclaimed"
	// Claimed is a server bound to a test account via a claim token.
	Claimed ClaimState = "claimed"
)

// Valid reports whether s is a known claim state.
func (s ClaimState) Valid() bool {
	return s == Unclaimed || s == Claimed
}

// Config is the merged plexup configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Header    HeaderConfig    `mapstructure:"header"`
	Docker    DockerConfig    `mapstructure:"docker"`
	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`
	Coverage  CoverageConfig  `mapstructure:"coverage"`
	Test      TestConfig      `mapstructure:"test"`
}

// ServerConfig describes the target media server endpoint.
type ServerConfig struct {
	// BaseURL of the server under test, e.g. http://127.0.0.1:32400.
	BaseURL string `mapstructure:"baseurl"`
	// Timeout applied to individual HTTP requests against the server.
	Timeout time.Duration `mapstructure:"timeout"`
}

// AuthConfig holds the claim credential. The token is required only for
// claimed legs; unclaimed legs leave it empty.
type AuthConfig struct {
	Token      string `mapstructure:"token"`
	AccountURL string `mapstructure:"account_url"`
}

// HeaderConfig identifies the synthetic client platform/device sent with
// every request, for API compatibility testing.
type HeaderConfig struct {
	Product         string `mapstructure:"product"`
	Platform        string `mapstructure:"platform"`
	PlatformVersion string `mapstructure:"platform_version"`
	Device          string `mapstructure:"device"`
	Provides        string `mapstructure:"provides"`
	Identifier      string `mapstructure:"identifier"`
}

// DockerConfig describes the server container image and runtime settings.
type DockerConfig struct {
	Repository string `mapstructure:"repository"`
	Tag        string `mapstructure:"tag"`
	HostPort   int    `mapstructure:"host_port"`
	CacheDir   string `mapstructure:"cache_dir"`
}

// BootstrapConfig bounds the bootstrap retry loop.
type BootstrapConfig struct {
	Attempts       int           `mapstructure:"attempts"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// CoverageConfig controls artifact placement and the aggregate gate.
type CoverageConfig struct {
	ArtifactDir string  `mapstructure:"artifact_dir"`
	Threshold   float64 `mapstructure:"threshold"`
}

// TestConfig controls test suite selection.
type TestConfig struct {
	// Packages passed to the test runner, default ./...
	Packages []string `mapstructure:"packages"`
	// IncludeSync enables the synchronization feature tests, which are
	// excluded from continuous runs by default.
	IncludeSync bool `mapstructure:"include_sync"`
}

// StateFile returns the path where the bootstrapped instance record lives.
func (c *Config) StateFile() string {
	return filepath.Join(c.Docker.CacheDir, "instance.json")
}

// defaultCacheDir returns the plexup cache directory, preferring the user
// cache dir and falling back to a temp path when it cannot be determined.
func defaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "plexup")
	}
	return filepath.Join(base, "plexup")
}

// DefaultConfig returns the built-in defaults applied before env and file
// values are merged on top.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL: "http://127.0.0.1:32400",
			Timeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			AccountURL: "https://plex.tv",
		},
		Header: HeaderConfig{
			Product:         "plexup",
			Platform:        "Linux",
			PlatformVersion: "1.0",
			Device:          "plexup-ci",
			Provides:        "controller",
		},
		Docker: DockerConfig{
			Repository: "plexinc/pms-docker",
			Tag:        "latest",
			HostPort:   32400,
			CacheDir:   defaultCacheDir(),
		},
		Bootstrap: BootstrapConfig{
			Attempts:       3,
			AttemptTimeout: 2 * time.Minute,
			Timeout:        120 * time.Second,
		},
		Coverage: CoverageConfig{
			ArtifactDir: ".",
			Threshold:   50,
		},
		Test: TestConfig{
			Packages: []string{"./..."},
		},
	}
}
