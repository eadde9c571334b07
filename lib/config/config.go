/*
Copyright 2024 Raywonder, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads and validates the openlinkd process configuration
// from a YAML file, with CLI flags taking precedence over file values.
package config

import (
	"os"
	"time"

	"github.com/gravitational/trace"
	"gopkg.in/yaml.v2"

	"github.com/raywonder/openlink/lib/defaults"
)

// ExecMode selects how the privileged exec channel runs commands.
type ExecMode string

const (
	// ExecModeLocal elevates privilege on the local host via sudo.
	ExecModeLocal ExecMode = "local"
	// ExecModeRemote tunnels commands to a remote host over SSH.
	ExecModeRemote ExecMode = "remote"
)

// Remote describes the SSH target used by the remote exec channel.
type Remote struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	User       string `yaml:"user"`
	PrivateKey string `yaml:"private_key_path"`
}

// ProxyConfig describes the aggregate nginx config files the broker
// writes to, for each location.
type ProxyConfig struct {
	LocalConfigPath  string `yaml:"local_config_path"`
	RemoteConfigPath string `yaml:"remote_config_path"`
	ReloadCommand    string `yaml:"reload_command"`
	TestCommand      string `yaml:"test_command"`
}

// Config is the full openlinkd process configuration.
type Config struct {
	// BindAddr is the single address both the control HTTP API and the
	// duplex-message acceptor listen on.
	BindAddr string `yaml:"bind_addr"`
	// CORSOrigins is the allowlist of origins for the control HTTP API.
	// It is parsed but not read by any component: the control API sets
	// no CORS headers from it.
	CORSOrigins []string `yaml:"cors_origins"`
	// MaxConnections is parsed and defaulted to 10000, but the peer
	// manager does not read it and enforces no connection limit.
	MaxConnections int `yaml:"max_connections"`
	// SessionTTL sets each session's expiry, counted from its creation; a
	// session is reaped once it has no peers and is past that expiry.
	// Activity does not extend it.
	SessionTTL time.Duration `yaml:"session_ttl"`
	// BaseDomains is the allowlist of suffixes subdomains may be carved
	// from (component E / spec §4.E).
	BaseDomains []string `yaml:"base_domains"`
	// PortRangeMin/Max bound the port allocator (component B).
	PortRangeMin int `yaml:"port_range_min"`
	PortRangeMax int `yaml:"port_range_max"`
	// MaxDomainLife is parsed and defaulted, but the domain broker does
	// not read it: domain lifetimes are capped by defaults.MaxDomainLife.
	MaxDomainLife time.Duration `yaml:"max_domain_life"`
	// MaxPermitDuration is parsed and defaulted, but the domain broker
	// does not read it: permit lifetimes are capped by
	// defaults.MaxPermitDuration.
	MaxPermitDuration time.Duration `yaml:"max_permit_duration"`
	// CleanupCadence is how often the broker's reaper sweeps.
	CleanupCadence time.Duration `yaml:"cleanup_cadence"`
	// ExecMode selects local-sudo vs remote-ssh for the privileged exec
	// channel (component A).
	ExecMode ExecMode `yaml:"exec_mode"`
	// SudoSecretPath, if set, is a file containing the sudo password fed
	// to the local elevation helper over stdin.
	SudoSecretPath string `yaml:"sudo_secret_path"`
	// Remote is the SSH target used when ExecMode is "remote".
	Remote Remote `yaml:"remote"`
	// Proxy configures the aggregate nginx config files.
	Proxy ProxyConfig `yaml:"proxy"`
	// IdentityFilePath is where persisted peer identity records live.
	IdentityFilePath string `yaml:"identity_file_path"`
	// LogLevel is a logrus level name ("debug", "info", "warn", "error").
	LogLevel string `yaml:"log_level"`
}

// CheckAndSetDefaults validates the configuration and fills in defaults
// for anything left unset, following the teacher's config-struct idiom.
func (c *Config) CheckAndSetDefaults() error {
	if c.BindAddr == "" {
		c.BindAddr = defaults.DefaultBindAddr
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 10000
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = defaults.SessionIdleTTL
	}
	if c.PortRangeMin <= 0 {
		c.PortRangeMin = defaults.DefaultPortRangeMin
	}
	if c.PortRangeMax <= 0 {
		c.PortRangeMax = defaults.DefaultPortRangeMax
	}
	if c.PortRangeMax < c.PortRangeMin {
		return trace.BadParameter("port_range_max %d is below port_range_min %d", c.PortRangeMax, c.PortRangeMin)
	}
	if c.MaxDomainLife <= 0 {
		c.MaxDomainLife = defaults.MaxDomainLife
	}
	if c.MaxPermitDuration <= 0 {
		c.MaxPermitDuration = defaults.MaxPermitDuration
	}
	if c.CleanupCadence <= 0 {
		c.CleanupCadence = defaults.DomainReapPeriod
	}
	if len(c.BaseDomains) == 0 {
		return trace.BadParameter("at least one base domain must be configured")
	}
	switch c.ExecMode {
	case "":
		c.ExecMode = ExecModeLocal
	case ExecModeLocal, ExecModeRemote:
	default:
		return trace.BadParameter("unknown exec_mode %q", c.ExecMode)
	}
	if c.ExecMode == ExecModeRemote {
		if c.Remote.Host == "" {
			return trace.BadParameter("remote.host is required when exec_mode is %q", ExecModeRemote)
		}
		if c.Remote.Port == 0 {
			c.Remote.Port = 22
		}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return nil
}

// Load reads and validates a YAML configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, trace.Wrap(err, "parsing config file %v", path)
	}
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &cfg, nil
}
