package constants

import "time"

// Shared duration vocabulary; tune timings here rather than at call sites.
const (
	Duration500Milliseconds = 500 * time.Millisecond

	Duration5Seconds  = 5 * time.Second
	Duration8Seconds  = 8 * time.Second
	Duration10Seconds = 10 * time.Second
	Duration15Seconds = 15 * time.Second
	Duration30Seconds = 30 * time.Second
	Duration60Seconds = 60 * time.Second
	Duration90Seconds = 90 * time.Second

	Duration5Minutes = 5 * time.Minute
)

// Timeouts.
const (
	BackendRequestTimeout = Duration10Seconds
	BackendReadBudget     = Duration90Seconds
	BackendSaveTimeout    = Duration30Seconds
	ConnectionTestTimeout = Duration15Seconds

	CacheStoreBusyTimeout = Duration5Seconds
	CacheStoreOpenTimeout = Duration5Seconds

	BridgePromptTimeout   = Duration60Seconds
	BridgeWriteTimeout    = Duration10Seconds
	BridgePongTimeout     = Duration60Seconds
	BridgeShutdownTimeout = Duration5Seconds
)

// Cache and polling defaults.
const (
	DocumentCacheTTL = Duration5Minutes
	StatusCacheTTL   = Duration30Seconds
	StatusPollPeriod = Duration30Seconds
)

// Retry defaults for read paths (initial load, status polling).
const (
	RetryMaxAttempts = 3
	RetryBaseDelay   = Duration500Milliseconds
	RetryMaxDelay    = Duration8Seconds
)

// Connection validator defaults.
const (
	ValidatorDebounce     = Duration500Milliseconds
	ValidatorMinURLLength = 10
	ValidatorMinKeyLength = 20
)
