// Package config loads the settings of the agent CLI from a JSON, YAML or
// TOML file and AGENT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Duration is a time.Duration written as a string such as "5s" in config
// files.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

// Agent describes the worker process to spawn.
type Agent struct {
	Command string   `json:"command" yaml:"command" toml:"command"`
	Args    []string `json:"args" yaml:"args" toml:"args"`
	Dir     string   `json:"dir" yaml:"dir" toml:"dir"`
	Env     []string `json:"env" yaml:"env" toml:"env"`
}

// Client is the descriptor sent with initialize.
type Client struct {
	Name             string `json:"name" yaml:"name" toml:"name"`
	Version          string `json:"version" yaml:"version" toml:"version"`
	WorkspaceRootURI string `json:"workspaceRootUri" yaml:"workspaceRootUri" toml:"workspace_root_uri"`
}

// Log configures the process logger.
type Log struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"`
}

// Trace enables the frame trace file.
type Trace struct {
	Path string `json:"path" yaml:"path" toml:"path"`
}

// Timeouts bound the lifecycle exchanges.
type Timeouts struct {
	Handshake Duration `json:"handshake" yaml:"handshake" toml:"handshake"`
	Shutdown  Duration `json:"shutdown" yaml:"shutdown" toml:"shutdown"`
}

// Config is the complete CLI configuration.
type Config struct {
	Agent         Agent    `json:"agent" yaml:"agent" toml:"agent"`
	Client        Client   `json:"client" yaml:"client" toml:"client"`
	Log           Log      `json:"log" yaml:"log" toml:"log"`
	Trace         Trace    `json:"trace" yaml:"trace" toml:"trace"`
	Timeouts      Timeouts `json:"timeouts" yaml:"timeouts" toml:"timeouts"`
	MaxFrameBytes int      `json:"maxFrameBytes" yaml:"maxFrameBytes" toml:"max_frame_bytes"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Client: Client{
			Name:    "agent-cli",
			Version: "0.0.0",
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Timeouts: Timeouts{
			Handshake: Duration(10 * time.Second),
			Shutdown:  Duration(5 * time.Second),
		},
		MaxFrameBytes: 64 << 20,
	}
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.Timeouts.Handshake <= 0 {
		errs = append(errs, errors.New("timeouts.handshake must be positive"))
	}
	if c.Timeouts.Shutdown <= 0 {
		errs = append(errs, errors.New("timeouts.shutdown must be positive"))
	}
	if c.MaxFrameBytes <= 0 {
		errs = append(errs, errors.New("maxFrameBytes must be positive"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Client.Name == "" {
		errs = append(errs, errors.New("client.name is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
