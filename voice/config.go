package voice

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the ambient, file-loadable subset of VoiceGatewayOptions that
// a host may want to override without rebuilding code: backoff shape and
// IP discovery timing. The rest of VoiceGatewayOptions (factories, audio
// hooks, ids) must still be supplied programmatically.
type Config struct {
	Reconnect          reconnectConfig `yaml:"reconnect"`
	IPDiscoveryTimeout time.Duration   `yaml:"ip_discovery_timeout"`
}

type reconnectConfig struct {
	FirstBackoff time.Duration `yaml:"first_backoff"`
	MaxBackoff   time.Duration `yaml:"max_backoff"`
	Factor       float64       `yaml:"factor"`
	Jitter       float64       `yaml:"jitter"`
	MaxAttempts  uint32        `yaml:"max_attempts"`
}

// DefaultConfig mirrors DefaultReconnectOptions and the 5s IPDiscoveryTimeout
// that VoiceGatewayOptions falls back to, as the literal values a host gets
// if it loads no override file.
func DefaultConfig() Config {
	opts := DefaultReconnectOptions()
	return Config{
		Reconnect: reconnectConfig{
			FirstBackoff: opts.FirstBackoff,
			MaxBackoff:   opts.MaxBackoff,
			Factor:       opts.Factor,
			Jitter:       opts.Jitter,
			MaxAttempts:  opts.MaxAttempts,
		},
		IPDiscoveryTimeout: 5 * time.Second,
	}
}

// LoadConfig parses a YAML document into a Config seeded with
// DefaultConfig, so a partial override file only needs to name the
// fields it changes.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("voice: load config: %w", err)
	}
	return cfg, nil
}

// ReconnectOptions converts the loaded config into the type classify/
// ReconnectContext consume.
func (c Config) ReconnectOptions() ReconnectOptions {
	return ReconnectOptions{
		FirstBackoff: c.Reconnect.FirstBackoff,
		MaxBackoff:   c.Reconnect.MaxBackoff,
		Factor:       c.Reconnect.Factor,
		Jitter:       c.Reconnect.Jitter,
		MaxAttempts:  c.Reconnect.MaxAttempts,
	}
}
