package ringconfig

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the ambient tuning knobs the core spec leaves as
// implementation constants. It is loaded from an optional ringneck.yaml
// inside the cache directory; a missing file is not an error and
// yields the zero value, which Defaults() then fills in.
type Config struct {
	KeepAliveInterval string `yaml:"keep_alive_interval,omitempty"`
	AutostartTimeout  string `yaml:"autostart_timeout,omitempty"`
	KillGrace         string `yaml:"kill_grace,omitempty"`
	LogLevel          string `yaml:"log_level,omitempty"`

	keepAlive time.Duration
	autostart time.Duration
	killGrace time.Duration
}

// Defaults returns the zero Config resolved to its built-in defaults.
func Defaults() Config {
	c := Config{}
	c.resolve()
	return c
}

// Load reads ringneck.yaml from dir. A missing file returns Defaults(), not
// an error, matching config.LoadWingConfig's "no file, no error" behavior.
func Load(dir string) (Config, error) {
	path := filepath.Join(dir, "ringneck.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Defaults(), nil
		}
		return Config{}, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, err
	}
	c.resolve()
	return c, nil
}

func (c *Config) resolve() {
	c.keepAlive = parseDurationOr(c.KeepAliveInterval, 200*time.Millisecond)
	c.autostart = parseDurationOr(c.AutostartTimeout, 3*time.Second)
	c.killGrace = parseDurationOr(c.KillGrace, 200*time.Millisecond)
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return fallback
}

// KeepAlive is how often the supervisor emits a KEEP_ALIVE frame to a
// capturing client so that a dead client is detected promptly.
func (c Config) KeepAlive() time.Duration { return c.keepAlive }

// AutostartWait is the bounded total time the client waits for a freshly
// spawned supervisor to start accepting connections.
func (c Config) AutostartWait() time.Duration { return c.autostart }

// KillGraceDuration is how long the executor waits after SIGTERM before
// escalating to SIGKILL on a cancelled child's process group.
func (c Config) KillGraceDuration() time.Duration { return c.killGrace }
