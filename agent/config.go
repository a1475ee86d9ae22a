package agent

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "90s"
// or "5m" as well as plain nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(v)
	case float64:
		*d = Duration(v)
	default:
		return fmt.Errorf("cannot parse %v (%T) as duration", raw, raw)
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// FileConfig mirrors the on-disk YAML configuration for a runner or
// manager. All fields are optional; unset fields use package defaults.
//
// Example:
//
//	binary: claude
//	model: sonnet
//	skip_permissions: true
//	timeout: 90s
//	idle_timeout: 15m
//	sweep_interval: 2m
//	transcript_dir: /var/log/agentkit
type FileConfig struct {
	Binary          string            `yaml:"binary"`
	Args            []string          `yaml:"args"`
	Model           string            `yaml:"model"`
	SkipPermissions bool              `yaml:"skip_permissions"`
	Timeout         Duration          `yaml:"timeout"`
	IdleTimeout     Duration          `yaml:"idle_timeout"`
	Env             map[string]string `yaml:"env"`
	WorkDir         string            `yaml:"work_dir"`
	Marker          string            `yaml:"marker"`
	GracePeriod     Duration          `yaml:"grace_period"`

	// Manager-level settings.
	SweepInterval Duration `yaml:"sweep_interval"`
	TranscriptDir string   `yaml:"transcript_dir"`
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// ToOptions converts the config to execution options.
// This enables mixing a config file with additional options.
func (c *FileConfig) ToOptions() []Option {
	opts := make([]Option, 0, 10)

	if c.Binary != "" {
		opts = append(opts, WithBinary(c.Binary))
	}
	if len(c.Args) > 0 {
		opts = append(opts, WithArgs(c.Args...))
	}
	if c.Model != "" {
		opts = append(opts, WithModel(c.Model))
	}
	if c.SkipPermissions {
		opts = append(opts, WithSkipPermissions())
	}
	if c.Timeout > 0 {
		opts = append(opts, WithTimeout(time.Duration(c.Timeout)))
	}
	if c.IdleTimeout > 0 {
		opts = append(opts, WithIdleTimeout(time.Duration(c.IdleTimeout)))
	}
	if len(c.Env) > 0 {
		opts = append(opts, WithEnv(c.Env))
	}
	if c.WorkDir != "" {
		opts = append(opts, WithWorkDir(c.WorkDir))
	}
	if c.Marker != "" {
		opts = append(opts, WithMarker(c.Marker))
	}
	if c.GracePeriod > 0 {
		opts = append(opts, WithGracePeriod(time.Duration(c.GracePeriod)))
	}

	return opts
}

// ToManagerOptions converts the config to manager options.
func (c *FileConfig) ToManagerOptions() []ManagerOption {
	opts := []ManagerOption{WithDefaultOptions(c.ToOptions()...)}

	if c.SweepInterval > 0 {
		opts = append(opts, WithSweepInterval(time.Duration(c.SweepInterval)))
	}
	if c.TranscriptDir != "" {
		opts = append(opts, WithTranscriptDir(c.TranscriptDir))
	}

	return opts
}
