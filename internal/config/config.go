// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/tlsgate/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Gateway  string `kong:"help='Gateway host:port (overrides config).',env='GATEWAY_ADDR'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	TLS     TLSConfig     `toml:"tls"`
	Gateway GatewayConfig `toml:"gateway"`
	Admin   AdminConfig   `toml:"admin"`
	Log     LogConfig     `toml:"log"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds the TLS listener settings.
type ServerConfig struct {
	Host             string          `toml:"host"`
	Port             int             `toml:"port"` // 0 means "use default" (8443); TOML cannot distinguish 0 from unset
	MaxConnections   int             `toml:"max_connections"`
	DisableKeepAlive bool            `toml:"disable_keep_alive"`
	AcceptRate       RateLimitConfig `toml:"accept_rate"`
}

// RateLimitConfig controls accept-loop rate limiting.
type RateLimitConfig struct {
	Enabled              bool    `toml:"enabled"`
	ConnectionsPerSecond float64 `toml:"connections_per_second"`
}

// TLSConfig holds the server certificate and handshake policy.
type TLSConfig struct {
	CertFile          string `toml:"cert_file"`
	KeyFile           string `toml:"key_file"`
	MinVersion        string `toml:"min_version"` // "1.0".."1.3"
	MaxVersion        string `toml:"max_version"`
	RequireClientCert bool   `toml:"require_client_cert"`
}

// GatewayConfig holds the fixed upstream endpoint settings.
type GatewayConfig struct {
	Host               string `toml:"host"`
	Port               int    `toml:"port"`
	HostnameOverride   string `toml:"hostname_override"` // rewrites the forwarded Host header when set
	UseHTTPS           bool   `toml:"use_https"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	ProxyAuthorization string `toml:"proxy_authorization"`
	CheckOnStart       bool   `toml:"check_on_start"`
}

// AdminConfig holds the plain-HTTP admin/status server settings.
type AdminConfig struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Metrics string `toml:"metrics_path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// tlsVersionNames lists the accepted min_version/max_version values.
var tlsVersionNames = map[string]bool{"": true, "1.0": true, "1.1": true, "1.2": true, "1.3": true}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/tlsgate/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	if err := cfg.applyCLI(cli); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) error {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Gateway != "" {
		host, port, err := net.SplitHostPort(cli.Gateway)
		if err != nil {
			return fmt.Errorf("--gateway must be host:port: %w", err)
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("--gateway port: %w", err)
		}
		c.Gateway.Host = host
		c.Gateway.Port = p
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	return nil
}

func (c *Config) validate() error {
	// TLS material: both halves of the key pair are required.
	if c.TLS.CertFile == "" {
		return fmt.Errorf("tls.cert_file is required")
	}
	if c.TLS.KeyFile == "" {
		return fmt.Errorf("tls.key_file is required")
	}
	if !tlsVersionNames[c.TLS.MinVersion] {
		return fmt.Errorf("tls.min_version must be one of: 1.0, 1.1, 1.2, 1.3; got %q", c.TLS.MinVersion)
	}
	if !tlsVersionNames[c.TLS.MaxVersion] {
		return fmt.Errorf("tls.max_version must be one of: 1.0, 1.1, 1.2, 1.3; got %q", c.TLS.MaxVersion)
	}

	// Gateway endpoint: required, the proxy forwards everything to it.
	if c.Gateway.Host == "" {
		return fmt.Errorf("gateway.host is required")
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port must be 1–65535; got %d", c.Gateway.Port)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections must be non-negative; got %d", c.Server.MaxConnections)
	}
	if c.Gateway.TimeoutSeconds < 0 {
		return fmt.Errorf("gateway.timeout_seconds must be non-negative; got %d", c.Gateway.TimeoutSeconds)
	}
	if c.Server.AcceptRate.Enabled && c.Server.AcceptRate.ConnectionsPerSecond <= 0 {
		return fmt.Errorf("server.accept_rate.connections_per_second must be > 0 when accept rate limiting is enabled; got %v", c.Server.AcceptRate.ConnectionsPerSecond)
	}
	if c.Admin.Enabled {
		if c.Admin.Port <= 0 || c.Admin.Port > 65535 {
			return fmt.Errorf("admin.port must be 1–65535 when the admin server is enabled; got %d", c.Admin.Port)
		}
		if c.Admin.Port == c.Server.Port {
			return fmt.Errorf("admin.port must differ from server.port; got %d for both", c.Admin.Port)
		}
		if c.Admin.Metrics != "" && c.Admin.Metrics[0] != '/' {
			return fmt.Errorf("admin.metrics_path must start with '/'; got %q", c.Admin.Metrics)
		}
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish an
// explicit 0 from an omitted key. Setting port=0 in the config file therefore
// results in the default port (8443).
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8443
	}
	if c.Server.MaxConnections == 0 {
		c.Server.MaxConnections = 512
	}
	if c.Gateway.TimeoutSeconds == 0 {
		c.Gateway.TimeoutSeconds = 60
	}
	if c.Admin.Host == "" {
		c.Admin.Host = "127.0.0.1"
	}
	if c.Admin.Metrics == "" {
		c.Admin.Metrics = "/metrics"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the listener address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Addr returns the gateway address as host:port.
func (c *GatewayConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Addr returns the admin server address as host:port.
func (c *AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KeepAliveEnabled reports whether client connections may be reused for
// multiple request/response iterations.
func (c *ServerConfig) KeepAliveEnabled() bool {
	return !c.DisableKeepAlive
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
