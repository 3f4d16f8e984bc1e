// Package config loads playcast's runtime configuration from CLI flags
// and environment variables.
package config

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
)

// Config holds all runtime configuration for the playcast server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir     string
	HTTPPort    int
	DACPPortMin int
	DACPPortMax int
	LogLevel    string
	LogFormat   string
	CORSOrigins string
	ExternalIP  string

	SoxPath     string
	FFmpegPath  string
	CliraopPath string

	EncryptionKey string // hex-encoded 32-byte key for encrypting stored device passwords at rest
}

const (
	defaultDataDir     = "./data"
	defaultHTTPPort    = 8095
	defaultDACPPortMin = 39831
	defaultDACPPortMax = 49831
	defaultLogLevel    = "info"
	defaultLogFormat   = "text"
	defaultSoxPath     = "sox"
	defaultFFmpegPath  = "ffmpeg"
	defaultCliraopPath = "cliraop"
)

// envPrefix is the prefix for all playcast environment variables.
const envPrefix = "PLAYCAST_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("playcastd", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the sqlite store and scratch files")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP stream server listen port")
	fs.IntVar(&cfg.DACPPortMin, "dacp-port-min", defaultDACPPortMin, "minimum TCP port for the DACP control server")
	fs.IntVar(&cfg.DACPPortMax, "dacp-port-max", defaultDACPPortMax, "maximum TCP port for the DACP control server")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", "", "comma-separated list of allowed CORS origins (use * for all)")
	fs.StringVar(&cfg.ExternalIP, "external-ip", "", "address advertised to endpoints (auto-detected if empty)")
	fs.StringVar(&cfg.SoxPath, "sox-path", defaultSoxPath, "path to the sox-compatible audio effects binary")
	fs.StringVar(&cfg.FFmpegPath, "ffmpeg-path", defaultFFmpegPath, "path to ffmpeg, used for AAC normalisation")
	fs.StringVar(&cfg.CliraopPath, "cliraop-path", defaultCliraopPath, "path to the cliraop RAOP helper binary")
	fs.StringVar(&cfg.EncryptionKey, "encryption-key", "", "hex-encoded 32-byte key for encrypting stored device passwords (stored in plaintext if empty)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"data-dir":       envPrefix + "DATA_DIR",
		"http-port":      envPrefix + "HTTP_PORT",
		"dacp-port-min":  envPrefix + "DACP_PORT_MIN",
		"dacp-port-max":  envPrefix + "DACP_PORT_MAX",
		"log-level":      envPrefix + "LOG_LEVEL",
		"log-format":     envPrefix + "LOG_FORMAT",
		"cors-origins":   envPrefix + "CORS_ORIGINS",
		"external-ip":    envPrefix + "EXTERNAL_IP",
		"sox-path":       envPrefix + "SOX_PATH",
		"ffmpeg-path":    envPrefix + "FFMPEG_PATH",
		"cliraop-path":   envPrefix + "CLIRAOP_PATH",
		"encryption-key": envPrefix + "ENCRYPTION_KEY",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "dacp-port-min":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.DACPPortMin = v
			}
		case "dacp-port-max":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.DACPPortMax = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "cors-origins":
			cfg.CORSOrigins = val
		case "external-ip":
			cfg.ExternalIP = val
		case "sox-path":
			cfg.SoxPath = val
		case "ffmpeg-path":
			cfg.FFmpegPath = val
		case "cliraop-path":
			cfg.CliraopPath = val
		case "encryption-key":
			cfg.EncryptionKey = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.DACPPortMin < 1024 || c.DACPPortMin > 65534 {
		return fmt.Errorf("dacp-port-min must be between 1024 and 65534, got %d", c.DACPPortMin)
	}
	if c.DACPPortMax <= c.DACPPortMin || c.DACPPortMax > 65535 {
		return fmt.Errorf("dacp-port-max must be greater than dacp-port-min and at most 65535, got %d", c.DACPPortMax)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	return nil
}

// EncryptionKeyBytes returns the decoded 32-byte device-password encryption
// key, or nil if none is configured (in which case device passwords are
// stored in plaintext).
func (c *Config) EncryptionKeyBytes() ([]byte, error) {
	if c.EncryptionKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("decoding encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// AdvertiseIP returns the address to advertise to endpoints over mDNS and in
// cliraop invocations. If ExternalIP is configured, it is returned directly.
// Otherwise the function attempts to detect the machine's primary
// non-loopback IPv4 address, falling back to "127.0.0.1".
func (c *Config) AdvertiseIP() string {
	if c.ExternalIP != "" {
		return c.ExternalIP
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ipNet.IP.To4() != nil {
				return ipNet.IP.String()
			}
		}
	}
	return "127.0.0.1"
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
