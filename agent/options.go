package agent

import (
	"fmt"
	"os"
	"time"
)

// Defaults for unset Options fields.
const (
	// DefaultBinary is the agent CLI resolved via PATH.
	DefaultBinary = "claude"

	// DefaultTimeout bounds one streaming invocation or one exchange.
	DefaultTimeout = 3 * time.Minute

	// DefaultIdleTimeout is how long a session may sit idle before the
	// sweep evicts it.
	DefaultIdleTimeout = 30 * time.Minute

	// DefaultMarker is the line the agent prints to end each response in
	// interactive mode.
	DefaultMarker = "###END###"
)

// Options configures one execution or session.
// Zero values use the documented defaults. Options values are treated as
// immutable once resolved; resolved copies are what sessions and streams
// carry.
type Options struct {
	// Binary is the agent CLI executable.
	// Default: "claude" (found via PATH).
	Binary string `json:"binary" yaml:"binary"`

	// Args are extra arguments passed to the binary verbatim, after any
	// arguments derived from the fields below.
	Args []string `json:"args" yaml:"args"`

	// Model selects the model/variant, passed as --model.
	// Optional.
	Model string `json:"model" yaml:"model"`

	// SkipPermissions bypasses the agent's confirmation prompts.
	// Required for unattended operation; use only in trusted environments.
	SkipPermissions bool `json:"skip_permissions" yaml:"skip_permissions"`

	// Timeout bounds one streaming invocation or one exchange.
	// Default: 3 minutes.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// IdleTimeout is the session inactivity timeout.
	// Default: 30 minutes.
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// Env provides additional environment variables for the subprocess.
	Env map[string]string `json:"env" yaml:"env"`

	// WorkDir is the subprocess working directory. Empty means inherit.
	WorkDir string `json:"work_dir" yaml:"work_dir"`

	// Marker is the response-terminator line for interactive sessions.
	// Default: "###END###".
	Marker string `json:"marker" yaml:"marker"`

	// GracePeriod is the SIGTERM-to-SIGKILL delay on forced termination.
	// Zero uses the proc package default (5 seconds).
	GracePeriod time.Duration `json:"grace_period" yaml:"grace_period"`
}

// Option configures Options.
type Option func(*Options)

// WithBinary sets the agent CLI executable.
func WithBinary(path string) Option {
	return func(o *Options) { o.Binary = path }
}

// WithArgs sets extra arguments passed to the binary verbatim.
func WithArgs(args ...string) Option {
	return func(o *Options) { o.Args = args }
}

// WithModel sets the model/variant selector.
func WithModel(model string) Option {
	return func(o *Options) { o.Model = model }
}

// WithSkipPermissions bypasses the agent's confirmation prompts.
func WithSkipPermissions() Option {
	return func(o *Options) { o.SkipPermissions = true }
}

// WithTimeout bounds one streaming invocation or one exchange.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithIdleTimeout sets the session inactivity timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Options) { o.IdleTimeout = d }
}

// WithEnv adds environment variables for the subprocess.
func WithEnv(env map[string]string) Option {
	return func(o *Options) {
		if o.Env == nil {
			o.Env = make(map[string]string)
		}
		for k, v := range env {
			o.Env[k] = v
		}
	}
}

// WithEnvVar adds a single environment variable for the subprocess.
func WithEnvVar(key, value string) Option {
	return func(o *Options) {
		if o.Env == nil {
			o.Env = make(map[string]string)
		}
		o.Env[key] = value
	}
}

// WithWorkDir sets the subprocess working directory.
func WithWorkDir(dir string) Option {
	return func(o *Options) { o.WorkDir = dir }
}

// WithMarker sets the response-terminator line for interactive sessions.
func WithMarker(marker string) Option {
	return func(o *Options) { o.Marker = marker }
}

// WithGracePeriod sets the SIGTERM-to-SIGKILL delay.
func WithGracePeriod(d time.Duration) Option {
	return func(o *Options) { o.GracePeriod = d }
}

// DefaultOptions returns Options with all defaults applied.
func DefaultOptions() Options {
	return Options{
		Binary:      DefaultBinary,
		Timeout:     DefaultTimeout,
		IdleTimeout: DefaultIdleTimeout,
		Marker:      DefaultMarker,
	}
}

// WithDefaults returns a copy with defaults applied for unset fields.
func (o Options) WithDefaults() Options {
	if o.Binary == "" {
		o.Binary = DefaultBinary
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.Marker == "" {
		o.Marker = DefaultMarker
	}
	return o
}

// apply returns a copy of o with opts applied, then defaults filled in.
func (o Options) apply(opts ...Option) Options {
	for _, opt := range opts {
		opt(&o)
	}
	return o.WithDefaults()
}

// Validate checks if the options are valid.
func (o *Options) Validate() error {
	if o.Timeout < 0 {
		return fmt.Errorf("timeout must be >= 0, got %v", o.Timeout)
	}
	if o.IdleTimeout < 0 {
		return fmt.Errorf("idle_timeout must be >= 0, got %v", o.IdleTimeout)
	}
	if o.GracePeriod < 0 {
		return fmt.Errorf("grace_period must be >= 0, got %v", o.GracePeriod)
	}
	return nil
}

// LoadFromEnv populates fields from environment variables.
// Variables use the AGENTKIT_ prefix and take precedence over existing
// values.
func (o *Options) LoadFromEnv() {
	if v := os.Getenv("AGENTKIT_BINARY"); v != "" {
		o.Binary = v
	}
	if v := os.Getenv("AGENTKIT_MODEL"); v != "" {
		o.Model = v
	}
	if v := os.Getenv("AGENTKIT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			o.Timeout = d
		}
	}
	if v := os.Getenv("AGENTKIT_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			o.IdleTimeout = d
		}
	}
	if v := os.Getenv("AGENTKIT_WORK_DIR"); v != "" {
		o.WorkDir = v
	}
	if v := os.Getenv("AGENTKIT_MARKER"); v != "" {
		o.Marker = v
	}
	if v := os.Getenv("AGENTKIT_SKIP_PERMISSIONS"); v == "true" || v == "1" {
		o.SkipPermissions = true
	}
}

// FromEnv creates Options from environment variables with defaults.
func FromEnv() Options {
	o := DefaultOptions()
	o.LoadFromEnv()
	return o
}

// buildArgs derives the subprocess argument list from the options.
// Extra Args are appended last so callers can override derived flags.
func (o *Options) buildArgs(interactive bool) []string {
	var args []string
	if interactive {
		args = append(args, "--interactive")
	}
	if o.Model != "" {
		args = append(args, "--model", o.Model)
	}
	if o.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	args = append(args, o.Args...)
	return args
}
