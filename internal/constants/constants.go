package constants

import "time"

// File and directory permissions.
const (
	// ConfigDirPerm is the permission for configuration directories.
	ConfigDirPerm = 0750

	// ConfigFilePerm is the permission for configuration files.
	ConfigFilePerm = 0600
)

// Retry manager defaults.
const (
	// DefaultRetryCount is the number of full-chain retries allowed per call.
	DefaultRetryCount = 2

	// DefaultReiterationTime is the wall-clock budget for a call including retries.
	DefaultReiterationTime = 10 * time.Second

	// DefaultRetrySleepTime is the base backoff between full-chain retries.
	DefaultRetrySleepTime = 200 * time.Millisecond
)

// Connection defaults.
const (
	// DefaultConnectionRetryCount is the number of low-level retries on timeout/socket errors.
	DefaultConnectionRetryCount = 3

	// DefaultConnectionRetryDelay is the initial delay between low-level retries.
	DefaultConnectionRetryDelay = 500 * time.Millisecond

	// DefaultConnectionReadTimeout bounds the wait for a response.
	DefaultConnectionReadTimeout = 120 * time.Second

	// DefaultConnectionOpenTimeout bounds the TCP/TLS handshake.
	DefaultConnectionOpenTimeout = 20 * time.Second

	// DefaultIdleConnTimeout evicts pooled connections after inactivity.
	DefaultIdleConnTimeout = 60 * time.Second

	// DefaultUserAgent is sent when no user agent is configured.
	DefaultUserAgent = "cloudapi-go/1.0"
)

// Logging limits.
const (
	// RequestBodyBytesToLog limits request body logging.
	RequestBodyBytesToLog = 6000

	// ResponseBodyBytesToLog limits successful response body logging.
	ResponseBodyBytesToLog = 2000

	// ResponseErrorBodyBytesToLog limits error response body logging.
	ResponseErrorBodyBytesToLog = 6000

	// LogPrefixSize is the number of hex digits in a per-call log prefix.
	LogPrefixSize = 6
)

// Request initializer.
const (
	// DefaultRandomTokenName is the URL param name used for cache-busting tokens.
	DefaultRandomTokenName = "rsrcarandomtoken"
)

// Worker registry.
const (
	// DefaultWorkerIdleTimeout prunes worker-scoped managers not used for this long.
	DefaultWorkerIdleTimeout = 10 * time.Minute
)

// Storage defaults.
const (
	// DefaultNATSBucket is the JetStream KV bucket for cache records.
	DefaultNATSBucket = "cloudapi-cache"

	// DefaultNATSRecordTTL expires cache records kept in NATS KV.
	DefaultNATSRecordTTL = 24 * time.Hour

	// DefaultNATSURL is used when a NATS storage config omits the server URL.
	DefaultNATSURL = "nats://127.0.0.1:4222"

	// MaxRecordUpdateAttempts bounds compare-and-set retries on a shared storage.
	MaxRecordUpdateAttempts = 5
)

// Metrics.
const (
	// MetricsNamespace prefixes every exported prometheus metric.
	MetricsNamespace = "cloudapi"

	// TracerName is the OpenTelemetry instrumentation scope.
	TracerName = "github.com/fivetwenty-io/cloudapi"
)

// Output formats.
const (
	// FormatJSON is the JSON output format.
	FormatJSON = "json"

	// FormatYAML is the YAML output format.
	FormatYAML = "yaml"

	// FormatTable is the table output format.
	FormatTable = "table"
)
