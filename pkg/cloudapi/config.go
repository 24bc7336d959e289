package cloudapi

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config configures a client created by cloudclient.New.
type Config struct {
	// Required fields
	// Endpoint: base URL of the cloud API (e.g., "https://ec2.example.com").
	// The scheme must be http or https.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Credentials: opaque values passed to the transport and error parsers.
	// "cert" and "key" are used for TLS client authentication. Empty values
	// are rejected.
	Credentials map[string]string `mapstructure:"credentials" yaml:"credentials"`

	// Optional configurations
	// Options: defaults applied to every call of every worker.
	Options []Option `mapstructure:"-" yaml:"-"`
	// Logger: structured logger. NopLogger when nil.
	Logger Logger `mapstructure:"-" yaml:"-"`
	// PatternFiles: YAML files with query, error and cache patterns loaded
	// at construction.
	PatternFiles []string `mapstructure:"pattern_files" yaml:"pattern_files"`
	// Storage: cache record backend. When set, one storage is shared by all
	// workers; otherwise every worker gets its own memory storage.
	Storage *StorageConfig `mapstructure:"storage" yaml:"storage,omitempty"`
	// SharedStorage: an already built backend shared by all workers. It
	// takes precedence over Storage and is not closed by the client.
	SharedStorage Storage `mapstructure:"-" yaml:"-"`
	// WorkerIdleTimeout: workers unused for longer are dropped by Prune.
	WorkerIdleTimeout time.Duration `mapstructure:"worker_idle_timeout" yaml:"worker_idle_timeout"`
}

// Validate checks the endpoint and credentials.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigRequired
	}

	_, err := ParseEndpoint(c.Endpoint)
	if err != nil {
		return err
	}

	for name, value := range c.Credentials {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%w: %s", ErrEmptyCredential, name)
		}
	}

	return nil
}

// ParseEndpoint parses an http(s) endpoint.
func ParseEndpoint(endpoint string) (*url.URL, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, ErrEndpointRequired
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidEndpointScheme, endpoint, err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEndpointScheme, endpoint)
	}

	return parsed, nil
}
