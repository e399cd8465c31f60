package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all voicetake settings.
type Config struct {
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Clips   ClipsConfig   `mapstructure:"clips" yaml:"clips"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
}

// CaptureConfig describes the microphone constraints.
type CaptureConfig struct {
	Device           string        `mapstructure:"device" yaml:"device"`                       // device ID or name, empty = system default
	SampleRate       int           `mapstructure:"sample_rate" yaml:"sample_rate"`             // Hz
	Channels         int           `mapstructure:"channels" yaml:"channels"`                   // 1 = mono, 2 = stereo
	FragmentInterval time.Duration `mapstructure:"fragment_interval" yaml:"fragment_interval"` // how often the device emits fragments
}

// ClipsConfig describes where finished takes are kept.
type ClipsConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
}

// ServerConfig describes the control server.
type ServerConfig struct {
	Port string `mapstructure:"port" yaml:"port"`
}

var defaultConfig = Config{
	Capture: CaptureConfig{
		SampleRate:       48000,
		Channels:         1,
		FragmentInterval: 250 * time.Millisecond,
	},
	Clips: ClipsConfig{
		Directory: filepath.Join(os.Getenv("HOME"), "Audio", "Voicetake"),
	},
	Server: ServerConfig{
		Port: "8080",
	},
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return os.ExpandEnv("$HOME/.config/voicetake.yaml")
}

// Load reads the config file at path, falling back to defaults for anything
// unset. A missing file is not an error; the defaults then apply in full.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("capture.sample_rate", defaultConfig.Capture.SampleRate)
	v.SetDefault("capture.channels", defaultConfig.Capture.Channels)
	v.SetDefault("capture.fragment_interval", defaultConfig.Capture.FragmentInterval)
	v.SetDefault("clips.directory", defaultConfig.Clips.Directory)
	v.SetDefault("server.port", defaultConfig.Server.Port)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
					return nil, fmt.Errorf("error reading config file %s: %w", path, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	cfg.Clips.Directory = expandPath(cfg.Clips.Directory)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks that the configuration can drive a capture session.
func (c *Config) Validate() error {
	if c.Capture.SampleRate <= 0 {
		return fmt.Errorf("capture.sample_rate must be positive, got %d", c.Capture.SampleRate)
	}
	if c.Capture.Channels < 1 || c.Capture.Channels > 2 {
		return fmt.Errorf("capture.channels must be 1 or 2, got %d", c.Capture.Channels)
	}
	if c.Capture.FragmentInterval < 10*time.Millisecond {
		return fmt.Errorf("capture.fragment_interval must be at least 10ms, got %s", c.Capture.FragmentInterval)
	}
	if c.Clips.Directory == "" {
		return fmt.Errorf("clips.directory is required")
	}
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	return nil
}

// expandPath expands a leading tilde to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
