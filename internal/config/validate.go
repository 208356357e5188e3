package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *BridgeConfig) Validate() error {
	if c.Upstream.RestURL == "" {
		return errors.New("upstream.rest_url is required")
	}
	if c.Upstream.WSURL == "" {
		return errors.New("upstream.ws_url is required")
	}
	if !strings.HasPrefix(c.Upstream.WSURL, "ws://") && !strings.HasPrefix(c.Upstream.WSURL, "wss://") {
		return fmt.Errorf("upstream.ws_url must use ws:// or wss://, got %q", c.Upstream.WSURL)
	}

	if c.Streaming.ConnectTimeout <= 0 {
		return errors.New("streaming.connect_timeout must be positive")
	}
	if c.Streaming.BufferSize < 1 {
		return errors.New("streaming.buffer_size must be >= 1")
	}

	if c.Reconnect.BaseDelay <= 0 {
		return errors.New("reconnect.base_delay must be positive")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		return fmt.Errorf("reconnect.max_delay (%v) cannot be less than base_delay (%v)",
			c.Reconnect.MaxDelay, c.Reconnect.BaseDelay)
	}
	if c.Reconnect.MaxAttempts < 1 {
		return errors.New("reconnect.max_attempts must be >= 1")
	}

	if c.Request.Timeout <= 0 {
		return errors.New("request.timeout must be positive")
	}

	if c.Health.Interval <= 0 {
		return errors.New("health.interval must be positive")
	}
	if c.Health.FailureThreshold < 1 {
		return errors.New("health.failure_threshold must be >= 1")
	}
	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	return nil
}
