// Package config loads and validates the bridge configuration from YAML
// with ${VAR} environment expansion.
package config

import "time"

// BridgeConfig is the top-level configuration for the market-data bridge.
type BridgeConfig struct {
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Streaming StreamingConfig `yaml:"streaming"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Request   RequestConfig   `yaml:"request"`
	Streams   StreamsConfig   `yaml:"streams"`
	Cache     CacheConfig     `yaml:"cache"`
	Health    HealthConfig    `yaml:"health"`
	Events    EventsConfig    `yaml:"events"`
}

// UpstreamConfig locates the data provider.
type UpstreamConfig struct {
	RestURL string `yaml:"rest_url"` // e.g. http://127.0.0.1:8200
	WSURL   string `yaml:"ws_url"`   // e.g. ws://127.0.0.1:8200
	APIKey  string `yaml:"api_key"`
}

// StreamingConfig tunes the per-client websocket transport.
type StreamingConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PingTimeout    time.Duration `yaml:"ping_timeout"`
	BufferSize     int           `yaml:"buffer_size"`
}

// ReconnectConfig tunes the reconnection supervisor.
type ReconnectConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// RequestConfig tunes the one-shot request router.
type RequestConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// StreamsConfig controls stream-to-channel resolution.
type StreamsConfig struct {
	// AllowFallback restores the legacy behavior of mapping unknown
	// streams to the trades channel instead of rejecting them.
	AllowFallback bool `yaml:"allow_fallback"`
}

// CacheConfig locates the optional Redis latest-value cache.
type CacheConfig struct {
	Addr     string        `yaml:"addr"` // empty disables the cache
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// HealthConfig tunes the upstream health monitor.
type HealthConfig struct {
	Interval         time.Duration `yaml:"interval"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Port             int           `yaml:"port"` // local status endpoint in bridged
}

// EventsConfig tunes the outbound event bus.
type EventsConfig struct {
	BufferSize int `yaml:"buffer_size"`
}
