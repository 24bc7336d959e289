package commands

import (
	"fmt"
	"strings"

	"github.com/fivetwenty-io/cloudapi/internal/constants"
	"github.com/fivetwenty-io/cloudapi/pkg/cloudapi"
	"github.com/fivetwenty-io/cloudapi/pkg/cloudclient"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// createClient builds a client from the CLI configuration.
func createClient() (*cloudclient.Client, error) {
	config := loadConfig()

	if config.Endpoint == "" {
		return nil, constants.ErrNoEndpointConfigured
	}

	logger, err := newLogger(viper.GetBool("verbose"))
	if err != nil {
		return nil, err
	}

	clientConfig := &cloudapi.Config{
		Endpoint:     config.Endpoint,
		Credentials:  config.Credentials,
		PatternFiles: config.PatternFiles,
		Logger:       logger,
		Options:      buildOptions(config, logger),
	}

	if config.Storage.Type != "" {
		clientConfig.Storage = cloudapi.NewStorageBuilder().
			WithType(cloudapi.StorageType(config.Storage.Type)).
			WithNATSURL(config.Storage.NATSURL, config.Storage.Bucket).
			Config()
	}

	client, err := cloudclient.New(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return client, nil
}

func buildOptions(config *Config, logger cloudapi.Logger) []cloudapi.Option {
	opts := []cloudapi.Option{cloudapi.WithCache(config.Cache)}

	if config.RetryCount > 0 {
		opts = append(opts, cloudapi.WithRetry(config.RetryCount,
			constants.DefaultReiterationTime, constants.DefaultRetrySleepTime))
	}

	if config.UserAgent != "" {
		opts = append(opts, cloudapi.WithUserAgent(config.UserAgent))
	}

	if config.CAFile != "" {
		opts = append(opts, cloudapi.WithCAFile(config.CAFile))
	}

	if viper.GetBool("verbose") {
		topics := make([]cloudapi.LogTopic, 0)
		for topic := range cloudapi.LogTopics() {
			topics = append(topics, topic)
		}

		opts = append(opts,
			cloudapi.WithLogFilters(topics...),
			cloudapi.WithCallbacks(cloudapi.LoggingCallbacks(logger)),
		)
	}

	return opts
}

func newLogger(verbose bool) (cloudapi.Logger, error) {
	if !verbose {
		return cloudapi.NopLogger{}, nil
	}

	config := zap.NewDevelopmentConfig()
	config.OutputPaths = []string{"stderr"}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return cloudapi.NewZapLogger(logger), nil
}

// parseKeyValues turns KEY=VALUE arguments into params. A key given twice
// becomes a list.
func parseKeyValues(args []string) (map[string]any, error) {
	params := make(map[string]any, len(args))

	for _, arg := range args {
		key, value, found := strings.Cut(arg, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("%w: %q", constants.ErrInvalidArgument, arg)
		}

		switch existing := params[key].(type) {
		case nil:
			params[key] = value
		case []any:
			params[key] = append(existing, value)
		default:
			params[key] = []any{existing, value}
		}
	}

	return params, nil
}

// parseHeaders turns "Name: value" flags into headers.
func parseHeaders(values []string) (cloudapi.Headers, error) {
	headers := cloudapi.Headers{}

	for _, value := range values {
		name, content, found := strings.Cut(value, ":")
		if !found || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: header %q", constants.ErrInvalidArgument, value)
		}

		headers.Add(strings.TrimSpace(name), strings.TrimSpace(content))
	}

	return headers, nil
}
