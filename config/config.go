// Package config loads roomlink configuration.
//
// Values are layered, later layers winning:
//
//  1. built-in defaults (Default)
//  2. a YAML file (Load)
//  3. environment variables, optionally seeded from a .env file (ApplyEnv)
//  4. command line flags, applied by the caller
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/wricardo/roomlink/transport/websocket"
	"gopkg.in/yaml.v3"
)

var (
	ErrConfigNotFound = errors.New("config file not found")
	ErrInvalidConfig  = errors.New("invalid config")
)

// EnvPrefix prefixes every roomlink environment variable.
const EnvPrefix = "ROOMLINK_"

type Config struct {
	Client ClientConfig `yaml:"client"`
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
	Cipher CipherConfig `yaml:"cipher"`
}

type ClientConfig struct {
	Address          string        `yaml:"address"`
	Room             string        `yaml:"room"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	PingPeriod       time.Duration `yaml:"ping_period"`
	QueryTimeout     time.Duration `yaml:"query_timeout"`
	SendBuffer       int           `yaml:"send_buffer"`
}

type ServerConfig struct {
	Host            string               `yaml:"host"`
	Port            int                  `yaml:"port"`
	AllowedOrigins  []string             `yaml:"allowed_origins"`
	Rooms           []websocket.RoomType `yaml:"rooms"`
	ShutdownTimeout time.Duration        `yaml:"shutdown_timeout"`
	Ngrok           NgrokConfig          `yaml:"ngrok"`
}

type NgrokConfig struct {
	Enabled   bool   `yaml:"enabled"`
	AuthToken string `yaml:"auth_token"`
	Domain    string `yaml:"domain"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type CipherConfig struct {
	Key    string `yaml:"key"`
	Secret string `yaml:"secret"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			Address:          "ws://localhost:8080/ws",
			Room:             "lobby",
			HandshakeTimeout: 10 * time.Second,
			PingPeriod:       54 * time.Second,
			QueryTimeout:     5 * time.Second,
			SendBuffer:       256,
		},
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
			Rooms: []websocket.RoomType{
				{Name: "lobby", MaxClients: 16},
			},
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 10,
			MaxAgeDays: 14,
			Compress:   true,
		},
		Cipher: CipherConfig{
			Key:    "abcdef",
			Secret: "abcdefgh",
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadEnv loads .env style files into the process environment. Missing
// files are skipped and variables already set are kept.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg with ROOMLINK_* variables and the ngrok variables
// read by the ngrok agent.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookup(name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := lookup(name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}

	str(EnvPrefix+"ADDRESS", &c.Client.Address)
	str(EnvPrefix+"ROOM", &c.Client.Room)
	dur(EnvPrefix+"HANDSHAKE_TIMEOUT", &c.Client.HandshakeTimeout)
	dur(EnvPrefix+"PING_PERIOD", &c.Client.PingPeriod)
	dur(EnvPrefix+"QUERY_TIMEOUT", &c.Client.QueryTimeout)

	str(EnvPrefix+"HOST", &c.Server.Host)
	num(EnvPrefix+"PORT", &c.Server.Port)
	if v, ok := lookup(EnvPrefix + "ALLOWED_ORIGINS"); ok && v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}

	str(EnvPrefix+"LOG_LEVEL", &c.Log.Level)
	str(EnvPrefix+"LOG_FORMAT", &c.Log.Format)
	str(EnvPrefix+"LOG_FILE", &c.Log.File)

	str(EnvPrefix+"CIPHER_KEY", &c.Cipher.Key)
	str(EnvPrefix+"CRYPT_SECRET", &c.Cipher.Secret)

	// Support both naming conventions used by ngrok tooling.
	flag("NGROK_ENABLED", &c.Server.Ngrok.Enabled)
	str("NGROK_AUTH_TOKEN", &c.Server.Ngrok.AuthToken)
	str("NGROK_AUTHTOKEN", &c.Server.Ngrok.AuthToken)
	str("NGROK_DOMAIN", &c.Server.Ngrok.Domain)

	return errors.Join(errs...)
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	seen := make(map[string]bool)
	for _, rt := range c.Server.Rooms {
		switch {
		case rt.Name == "":
			errs = append(errs, errors.New("server.rooms: room name is empty"))
		case seen[rt.Name]:
			errs = append(errs, fmt.Errorf("server.rooms: duplicate room %q", rt.Name))
		case rt.MaxClients < 0:
			errs = append(errs, fmt.Errorf("server.rooms: room %q has negative max_clients", rt.Name))
		}
		seen[rt.Name] = true
	}
	if c.Client.QueryTimeout < 0 {
		errs = append(errs, errors.New("client.query_timeout is negative"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}
	if c.Cipher.Key == "" {
		errs = append(errs, errors.New("cipher.key is empty"))
	}
	if c.Cipher.Secret == "" {
		errs = append(errs, errors.New("cipher.secret is empty"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// ListenAddr returns host:port for the dev server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
