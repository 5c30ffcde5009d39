package constants

import "time"

// Centralized default values for timeouts, intervals, and related settings.
// These provide sane defaults; environment/config may override where supported.

const (
	// Database
	DBReadTimeoutDefault  = 8 * time.Second
	DBWriteTimeoutDefault = 6 * time.Second

	// Geocoding (Google Maps)
	GeocoderOperationTimeout  = 10 * time.Second
	GeocoderOpenFor           = 30 * time.Second
	GeocoderRequestTimeout    = 12 * time.Second
	GeocoderSlowCallThreshold = 1500 * time.Millisecond

	// Review assistant / OpenAI
	ReviewDefaultAPITimeout = 60 * time.Second
	ReviewOperationTimeout  = 50 * time.Second
	ReviewOpenFor           = 45 * time.Second
	ReviewSlowCallThreshold = 20 * time.Second

	// Health
	HealthTimeoutDefault = 30 * time.Second

	// Processing engine
	ProcessorRetryDelayDefault = 5 * time.Second
	RunTimeoutDefault          = 5 * time.Minute

	// Config watcher
	ConfigWatcherIntervalDefault = 2 * time.Second

	// App shutdown
	GracefulShutdownTimeoutDefault = 10 * time.Second

	// Events store SQL operations
	EventsSQLTimeoutDefault = 5 * time.Second

	// Monitoring
	MonitoringIntervalDefault = 5 * time.Second
)
