package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL          = "http://127.0.0.1:8200"
	DefaultWSURL            = "ws://127.0.0.1:8200"
	DefaultConnectTimeout   = 5 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultPingTimeout      = 60 * time.Second
	DefaultBufferSize       = 1000
	DefaultReconnectBase    = 5 * time.Second
	DefaultReconnectMax     = 30 * time.Second
	DefaultReconnectRetries = 10
	DefaultRequestTimeout   = 30 * time.Second
	DefaultCacheTTL         = 5 * time.Minute
	DefaultHealthInterval   = 15 * time.Second
	DefaultHealthThreshold  = 3
	DefaultHealthPort       = 8090
	DefaultEventBufferSize  = 1024
)

func (c *BridgeConfig) applyDefaults() {
	if c.Upstream.RestURL == "" {
		c.Upstream.RestURL = DefaultRestURL
	}
	if c.Upstream.WSURL == "" {
		c.Upstream.WSURL = DefaultWSURL
	}

	if c.Streaming.ConnectTimeout == 0 {
		c.Streaming.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Streaming.WriteTimeout == 0 {
		c.Streaming.WriteTimeout = DefaultWriteTimeout
	}
	if c.Streaming.PingTimeout == 0 {
		c.Streaming.PingTimeout = DefaultPingTimeout
	}
	if c.Streaming.BufferSize == 0 {
		c.Streaming.BufferSize = DefaultBufferSize
	}

	if c.Reconnect.BaseDelay == 0 {
		c.Reconnect.BaseDelay = DefaultReconnectBase
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = DefaultReconnectMax
	}
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = DefaultReconnectRetries
	}

	if c.Request.Timeout == 0 {
		c.Request.Timeout = DefaultRequestTimeout
	}

	if c.Cache.TTL == 0 {
		c.Cache.TTL = DefaultCacheTTL
	}

	if c.Health.Interval == 0 {
		c.Health.Interval = DefaultHealthInterval
	}
	if c.Health.FailureThreshold == 0 {
		c.Health.FailureThreshold = DefaultHealthThreshold
	}
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}

	if c.Events.BufferSize == 0 {
		c.Events.BufferSize = DefaultEventBufferSize
	}
}
