package core

import (
	"time"
)

// TimeoutConfig configures timeouts for live sessions.
type TimeoutConfig struct {
	// ComponentMount is the timeout for component Mount() calls.
	ComponentMount time.Duration

	// ComponentEvent is the timeout for HandleEvent() and the render after it.
	ComponentEvent time.Duration

	// Request bounds how long the server waits for the browser to answer a
	// surface request such as a clipboard write or share sheet.
	Request time.Duration

	// SessionIdle is how long a silent session survives before cleanup.
	SessionIdle time.Duration

	// SessionCleanup is the interval for cleaning up inactive sessions.
	SessionCleanup time.Duration

	// GracefulShutdown is the timeout for graceful shutdown.
	GracefulShutdown time.Duration
}

// DefaultTimeoutConfig returns the default timeout configuration.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		ComponentMount:   5 * time.Second,
		ComponentEvent:   5 * time.Second,
		Request:          2 * time.Minute,
		SessionIdle:      30 * time.Minute,
		SessionCleanup:   5 * time.Minute,
		GracefulShutdown: 30 * time.Second,
	}
}

// Validate reports the first non-positive timeout.
func (c TimeoutConfig) Validate() error {
	switch {
	case c.ComponentMount <= 0:
		return configError("component mount timeout must be positive")
	case c.ComponentEvent <= 0:
		return configError("component event timeout must be positive")
	case c.Request <= 0:
		return configError("request timeout must be positive")
	case c.SessionIdle <= 0:
		return configError("session idle timeout must be positive")
	case c.SessionCleanup <= 0:
		return configError("session cleanup interval must be positive")
	case c.GracefulShutdown <= 0:
		return configError("graceful shutdown timeout must be positive")
	}
	return nil
}

type configError string

func (e configError) Error() string { return string(e) }
