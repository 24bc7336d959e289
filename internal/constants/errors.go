package constants

import "errors"

// CLI configuration errors.
var (
	ErrNoEndpointConfigured = errors.New("no endpoint configured, use --endpoint or 'cloudapi config set endpoint'")
	ErrNoPatternsFile       = errors.New("no patterns file configured, use --patterns")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrUnknownConfigKey     = errors.New("unknown configuration key")
	ErrInvalidOutputFormat  = errors.New("invalid output format")
)
