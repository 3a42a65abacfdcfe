// Package config loads and validates the proxy's TOML configuration.
// Configuration is immutable after load.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/PeterCxy/wl-mitm/internal/errx"
)

// Filter actions.
const (
	ActionBlock  = "block"
	ActionAsk    = "ask"
	ActionNotify = "notify"
)

// Block types.
const (
	BlockIgnore = "ignore"
	BlockReject = "reject"
)

// fallbackRuntimeDir is used when XDG_RUNTIME_DIR is unset.
const fallbackRuntimeDir = "/run/user/1000"

// Config is the whole configuration file.
type Config struct {
	Socket  SocketConfig  `mapstructure:"socket"`
	Exec    ExecConfig    `mapstructure:"exec"`
	Logging LoggingConfig `mapstructure:"logging"`
	Filter  FilterConfig  `mapstructure:"filter"`
	Proto   ProtoConfig   `mapstructure:"proto"`
}

// SocketConfig names the two unix sockets. Relative paths are resolved
// against XDG_RUNTIME_DIR.
type SocketConfig struct {
	Listen   string `mapstructure:"listen"`
	Upstream string `mapstructure:"upstream"`
}

// ExecConfig configures the helper commands.
type ExecConfig struct {
	AskCmd            string `mapstructure:"ask_cmd"`
	NotifyCmd         string `mapstructure:"notify_cmd"`
	AskTimeoutSeconds int    `mapstructure:"ask_timeout_seconds"`
}

// LoggingConfig configures the process-wide log sink.
type LoggingConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	LogAllRequests bool   `mapstructure:"log_all_requests"`
	LogAllEvents   bool   `mapstructure:"log_all_events"`
	File           string `mapstructure:"file"`
	MaxSizeMB      int    `mapstructure:"max_size_mb"`
	MaxBackups     int    `mapstructure:"max_backups"`
	MaxAgeDays     int    `mapstructure:"max_age_days"`
}

// FilterConfig is the policy section.
type FilterConfig struct {
	AllowedGlobals []string        `mapstructure:"allowed_globals"`
	DryRun         bool            `mapstructure:"dry_run"`
	Requests       []RequestFilter `mapstructure:"requests"`

	// HasAllowedGlobals distinguishes an absent allowed_globals key
	// (allow everything) from an explicit empty list (hide everything).
	HasAllowedGlobals bool `mapstructure:"-"`
}

// RequestFilter is one [[filter.requests]] entry.
type RequestFilter struct {
	Interface string   `mapstructure:"interface"`
	Requests  []string `mapstructure:"requests"`
	Action    string   `mapstructure:"action"`
	Desc      string   `mapstructure:"desc"`
	BlockType string   `mapstructure:"block_type"`
	ErrorCode uint32   `mapstructure:"error_code"`
}

// ProtoConfig points at the XML protocol definitions.
type ProtoConfig struct {
	Dir string `mapstructure:"dir"`
}

// Load reads and validates the TOML file at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.SetDefault("exec.ask_timeout_seconds", 60)
	v.SetDefault("logging.log_level", "info")
	v.SetDefault("proto.dir", "proto")

	if err := v.ReadInConfig(); err != nil {
		return nil, errx.Wrap(ErrReadConfig, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errx.Wrap(ErrParseConfig, err)
	}
	cfg.Filter.HasAllowedGlobals = v.IsSet("filter.allowed_globals")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks everything that can be checked without the schema.
func (c *Config) Validate() error {
	if c.Socket.Listen == "" {
		return ErrListenUnset
	}
	if c.Socket.ListenPath() == c.Socket.UpstreamPath() {
		return ErrSameSocket
	}
	if err := validateSocketPath(c.Socket.Listen); err != nil {
		return err
	}

	switch c.Logging.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errx.With(ErrBadLogLevel, " %q", c.Logging.LogLevel)
	}

	for i := range c.Filter.Requests {
		f := &c.Filter.Requests[i]
		if f.Interface == "" {
			return errx.With(ErrFilterInterface, " (entry %d)", i)
		}
		if len(f.Requests) == 0 {
			return errx.With(ErrFilterRequests, " (%s)", f.Interface)
		}
		switch f.Action {
		case ActionBlock:
		case ActionAsk:
			if c.Exec.AskCmd == "" {
				return errx.With(ErrAskCmdUnset, " (%s)", f.Interface)
			}
		case ActionNotify:
			if c.Exec.NotifyCmd == "" {
				return errx.With(ErrNotifyCmdUnset, " (%s)", f.Interface)
			}
		default:
			return errx.With(ErrBadAction, " %q (%s)", f.Action, f.Interface)
		}
		switch f.BlockType {
		case "":
			f.BlockType = BlockIgnore
		case BlockIgnore, BlockReject:
		default:
			return errx.With(ErrBadBlockType, " %q (%s)", f.BlockType, f.Interface)
		}
	}
	return nil
}

// RuntimeDir returns XDG_RUNTIME_DIR with the conventional fallback.
func RuntimeDir() string {
	if d := os.Getenv("XDG_RUNTIME_DIR"); d != "" {
		return d
	}
	return fallbackRuntimeDir
}

// ListenPath resolves the listen socket path.
func (s *SocketConfig) ListenPath() string {
	return resolveSocketPath(s.Listen)
}

// UpstreamPath resolves the upstream socket path. When unset it falls
// back to WAYLAND_DISPLAY, then to "wayland-1".
func (s *SocketConfig) UpstreamPath() string {
	up := s.Upstream
	if up == "" {
		up = os.Getenv("WAYLAND_DISPLAY")
	}
	if up == "" {
		up = "wayland-1"
	}
	return resolveSocketPath(up)
}

func resolveSocketPath(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(RuntimeDir(), p)
}

// validateSocketPath rejects relative listen paths that escape the
// runtime directory.
func validateSocketPath(p string) error {
	if filepath.IsAbs(p) {
		return nil
	}
	resolved := filepath.Join(RuntimeDir(), p)
	rel, err := filepath.Rel(RuntimeDir(), resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return errx.With(ErrListenEscape, " %q", p)
	}
	return nil
}
