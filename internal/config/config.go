// Package config loads and validates the keyfold CLI configuration from
// layered sources: packaged defaults, an optional JSON or YAML file,
// KEYFOLD_-prefixed environment variables and command-line flags, in that
// order of precedence.
package config

import (
	"errors"
	"fmt"

	"github.com/keyfold/keyfold-go/keycache"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Server configures the connection to the object store.
type Server struct {
	Address        string  `koanf:"address" json:"address,omitempty"`
	Token          string  `koanf:"token" json:"token,omitempty"`
	TimeoutSeconds int     `koanf:"timeout_seconds" json:"timeout_seconds,omitempty"`
	RateLimit      float64 `koanf:"rate_limit" json:"rate_limit,omitempty"`
	RateBurst      int     `koanf:"rate_burst" json:"rate_burst,omitempty"`
}

func (s Server) validate() []error {
	var errs []error
	if s.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("timeout_seconds: cannot be negative, got %d", s.TimeoutSeconds))
	}
	if s.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate_limit: cannot be negative, got %f", s.RateLimit))
	}
	return errs
}

var serverDefault = Server{
	TimeoutSeconds: 30,
}

// Identity names the private keys this process holds, one PEM file per
// controlled trust party.
type Identity struct {
	PrivateKeyFiles map[string]string `koanf:"private_key_files" json:"private_key_files,omitempty"`
}

func (i Identity) validate() []error {
	var errs []error
	for party, path := range i.PrivateKeyFiles {
		if party == "" {
			errs = append(errs, errors.New("private_key_files: party name cannot be empty"))
		}
		if path == "" {
			errs = append(errs, fmt.Errorf("private_key_files: path for party %q cannot be empty", party))
		}
	}
	return errs
}

// LoadPrivateKeys reads the configured PEM files and returns their contents
// keyed by party name.
func (i Identity) LoadPrivateKeys(fsys afero.Fs) (map[string]string, error) {
	keys := make(map[string]string, len(i.PrivateKeyFiles))
	for party, path := range i.PrivateKeyFiles {
		raw, err := afero.ReadFile(fsys, path)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key for party %q: %w", party, err)
		}
		keys[party] = string(raw)
	}
	return keys, nil
}

// Publish names the trust party publish operations hand new keys to.
type Publish struct {
	Server string `koanf:"server" json:"server,omitempty"`
}

// CacheBackend selects a key cache implementation.
type CacheBackend string

const (
	CacheBackendNone       CacheBackend = "none"
	CacheBackendMemory     CacheBackend = "memory"
	CacheBackendFilesystem CacheBackend = "filesystem"
	CacheBackendEtcd       CacheBackend = "etcd"
)

// Cache configures the key cache.
type Cache struct {
	Backend       CacheBackend `koanf:"backend" json:"backend,omitempty"`
	Dir           string       `koanf:"dir" json:"dir,omitempty"`
	Prefix        string       `koanf:"prefix" json:"prefix,omitempty"`
	TTLSeconds    int          `koanf:"ttl_seconds" json:"ttl_seconds,omitempty"`
	MaxEntries    int          `koanf:"max_entries" json:"max_entries,omitempty"`
	EtcdEndpoints []string     `koanf:"etcd_endpoints" json:"etcd_endpoints,omitempty"`
	EtcdLogLevel  string       `koanf:"etcd_log_level" json:"etcd_log_level,omitempty"`
}

func (c Cache) validate() []error {
	var errs []error
	switch c.Backend {
	case CacheBackendNone, CacheBackendMemory:
	case CacheBackendFilesystem:
		if c.Dir == "" {
			errs = append(errs, errors.New("dir: cannot be empty for the filesystem backend"))
		}
	case CacheBackendEtcd:
		if len(c.EtcdEndpoints) == 0 {
			errs = append(errs, errors.New("etcd_endpoints: cannot be empty for the etcd backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("backend: unsupported cache backend %q", c.Backend))
	}
	if c.TTLSeconds < 0 {
		errs = append(errs, fmt.Errorf("ttl_seconds: cannot be negative, got %d", c.TTLSeconds))
	}
	if c.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("max_entries: cannot be negative, got %d", c.MaxEntries))
	}
	if _, err := zerolog.ParseLevel(c.EtcdLogLevel); err != nil {
		errs = append(errs, fmt.Errorf("etcd_log_level: invalid log level %q: %w", c.EtcdLogLevel, err))
	}
	return errs
}

var cacheDefault = Cache{
	Backend:      CacheBackendMemory,
	Prefix:       keycache.DefaultEtcdPrefix,
	TTLSeconds:   300,
	MaxEntries:   1024,
	EtcdLogLevel: "fatal",
}

// Logging configures the zerolog logger.
type Logging struct {
	Level  string `koanf:"level" json:"level,omitempty"`
	Pretty bool   `koanf:"pretty" json:"pretty,omitempty"`
}

func (l Logging) validate() []error {
	var errs []error
	if _, err := zerolog.ParseLevel(l.Level); err != nil {
		errs = append(errs, fmt.Errorf("level: invalid log level %q: %w", l.Level, err))
	}
	return errs
}

var loggingDefault = Logging{
	Level: "info",
}

type Config struct {
	Server   Server   `koanf:"server" json:"server,omitzero"`
	Identity Identity `koanf:"identity" json:"identity,omitzero"`
	Publish  Publish  `koanf:"publish" json:"publish,omitzero"`
	Cache    Cache    `koanf:"cache" json:"cache,omitzero"`
	Logging  Logging  `koanf:"logging" json:"logging,omitzero"`
}

func (c Config) Validate() error {
	var errs []error
	for _, err := range c.Server.validate() {
		errs = append(errs, fmt.Errorf("server.%w", err))
	}
	for _, err := range c.Identity.validate() {
		errs = append(errs, fmt.Errorf("identity.%w", err))
	}
	for _, err := range c.Cache.validate() {
		errs = append(errs, fmt.Errorf("cache.%w", err))
	}
	for _, err := range c.Logging.validate() {
		errs = append(errs, fmt.Errorf("logging.%w", err))
	}
	return errors.Join(errs...)
}

func DefaultConfig() Config {
	return Config{
		Server:  serverDefault,
		Cache:   cacheDefault,
		Logging: loggingDefault,
	}
}
