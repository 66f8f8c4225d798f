package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// ErrUnknownFormat is returned for config files whose extension is not
// .json, .yaml, .yml or .toml.
var ErrUnknownFormat = errors.New("config: unknown file format")

// env holds the AGENT_* overrides. Zero values leave the loaded setting
// unchanged.
type env struct {
	Command          string        `env:"AGENT_COMMAND"`
	Args             []string      `env:"AGENT_ARGS"`
	Dir              string        `env:"AGENT_DIR"`
	ClientName       string        `env:"AGENT_CLIENT_NAME"`
	ClientVersion    string        `env:"AGENT_CLIENT_VERSION"`
	WorkspaceRootURI string        `env:"AGENT_WORKSPACE_ROOT_URI"`
	LogLevel         string        `env:"AGENT_LOG_LEVEL"`
	LogFormat        string        `env:"AGENT_LOG_FORMAT"`
	TracePath        string        `env:"AGENT_TRACE_PATH"`
	HandshakeTimeout time.Duration `env:"AGENT_HANDSHAKE_TIMEOUT"`
	ShutdownTimeout  time.Duration `env:"AGENT_SHUTDOWN_TIMEOUT"`
	MaxFrameBytes    int           `env:"AGENT_MAX_FRAME_BYTES"`
}

// Load reads path on top of Default, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := Decode(data, filepath.Ext(path), &cfg); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode parses data in the format named by ext into cfg. Settings absent
// from data keep their current values.
func Decode(data []byte, ext string, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		return dec.Decode(cfg)
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		return dec.Decode(cfg)
	case ".toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("unknown keys %v", undecoded)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, ext)
	}
}

// ApplyEnv overrides cfg with the AGENT_* variables that are set.
func ApplyEnv(cfg *Config) error {
	var e env
	if err := envdecode.Decode(&e); err != nil {
		if errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return nil
		}
		return fmt.Errorf("config: environment: %w", err)
	}

	setString(&cfg.Agent.Command, e.Command)
	setString(&cfg.Agent.Dir, e.Dir)
	if len(e.Args) > 0 {
		cfg.Agent.Args = e.Args
	}
	setString(&cfg.Client.Name, e.ClientName)
	setString(&cfg.Client.Version, e.ClientVersion)
	setString(&cfg.Client.WorkspaceRootURI, e.WorkspaceRootURI)
	setString(&cfg.Log.Level, e.LogLevel)
	setString(&cfg.Log.Format, e.LogFormat)
	setString(&cfg.Trace.Path, e.TracePath)
	if e.HandshakeTimeout != 0 {
		cfg.Timeouts.Handshake = Duration(e.HandshakeTimeout)
	}
	if e.ShutdownTimeout != 0 {
		cfg.Timeouts.Shutdown = Duration(e.ShutdownTimeout)
	}
	if e.MaxFrameBytes != 0 {
		cfg.MaxFrameBytes = e.MaxFrameBytes
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
