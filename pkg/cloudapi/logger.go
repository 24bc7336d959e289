package cloudapi

import (
	"regexp"
	"sort"
	"sync"

	"github.com/fivetwenty-io/cloudapi/internal/constants"
	"go.uber.org/zap"
)

// Logger interface for logging.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, map[string]interface{}) {}
func (NopLogger) Info(string, map[string]interface{})  {}
func (NopLogger) Warn(string, map[string]interface{})  {}
func (NopLogger) Error(string, map[string]interface{}) {}

// zapLogger adapts a zap logger to the Logger interface.
type zapLogger struct {
	logger *zap.Logger
}

// NewZapLogger wraps a zap logger.
func NewZapLogger(logger *zap.Logger) Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &zapLogger{logger: logger}
}

func (l *zapLogger) Debug(msg string, fields map[string]interface{}) {
	l.logger.Debug(msg, zapFields(fields)...)
}

func (l *zapLogger) Info(msg string, fields map[string]interface{}) {
	l.logger.Info(msg, zapFields(fields)...)
}

func (l *zapLogger) Warn(msg string, fields map[string]interface{}) {
	l.logger.Warn(msg, zapFields(fields)...)
}

func (l *zapLogger) Error(msg string, fields map[string]interface{}) {
	l.logger.Error(msg, zapFields(fields)...)
}

func zapFields(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	result := make([]zap.Field, 0, len(fields))
	for _, key := range keys {
		result = append(result, zap.Any(key, fields[key]))
	}

	return result
}

// LogTopic selects a group of pipeline log messages.
type LogTopic string

// Log topics.
const (
	TopicAPIManager                LogTopic = "api_manager"
	TopicWrapper                   LogTopic = "wrapper"
	TopicRoutine                   LogTopic = "routine"
	TopicCacheValidator            LogTopic = "cache_validator"
	TopicRequestAnalyzer           LogTopic = "request_analyzer"
	TopicRequestGenerator          LogTopic = "request_generator"
	TopicRequestGeneratorBody      LogTopic = "request_generator_body"
	TopicResponseAnalyzer          LogTopic = "response_analyzer"
	TopicResponseAnalyzerBody      LogTopic = "response_analyzer_body"
	TopicResponseAnalyzerBodyError LogTopic = "response_analyzer_body_error"
	TopicResponseParser            LogTopic = "response_parser"
	TopicTimer                     LogTopic = "timer"
	TopicRetryManager              LogTopic = "retry_manager"
	TopicConnectionProxy           LogTopic = "connection_proxy"
	TopicAll                       LogTopic = "all"
)

// DefaultLogFilters are the topics enabled when none are configured.
var DefaultLogFilters = []LogTopic{
	TopicConnectionProxy,
	TopicRequestGenerator,
	TopicRequestGeneratorBody,
	TopicResponseAnalyzer,
	TopicResponseAnalyzerBodyError,
	TopicResponseParser,
}

// LogTopics describes every topic.
func LogTopics() map[LogTopic]string {
	return map[LogTopic]string{
		TopicAPIManager:                "Enables APIManager logs",
		TopicWrapper:                   "Enables pattern registry logs",
		TopicRoutine:                   "Enables Routine logs",
		TopicCacheValidator:            "Enables CacheValidator logs",
		TopicRequestAnalyzer:           "Enables RequestAnalyzer logs",
		TopicRequestGenerator:          "Enables RequestGenerator logs",
		TopicRequestGeneratorBody:      "Enables RequestGenerator body logging",
		TopicResponseAnalyzer:          "Enables ResponseAnalyzer logs",
		TopicResponseAnalyzerBody:      "Enables ResponseAnalyzer body logging",
		TopicResponseAnalyzerBodyError: "Enables ResponseAnalyzer body logging on error",
		TopicResponseParser:            "Enables ResponseParser logs",
		TopicTimer:                     "Enables timer logs",
		TopicRetryManager:              "Enables RetryManager logs",
		TopicConnectionProxy:           "Enables ConnectionProxy logs",
		TopicAll:                       "Enables all the possible log topics",
	}
}

// APILogger writes topic-filtered pipeline messages tagged with a per-call
// prefix. Secrets matching the filter patterns are masked: each pattern must
// have three groups and the middle one is replaced with [FILTERED].
type APILogger struct {
	logger   Logger
	filters  map[LogTopic]struct{}
	patterns []*regexp.Regexp

	mu     sync.RWMutex
	prefix string
}

// NewAPILogger creates a logger. Empty filters fall back to DefaultLogFilters.
func NewAPILogger(logger Logger, filters []LogTopic, patterns []*regexp.Regexp) *APILogger {
	if logger == nil {
		logger = NopLogger{}
	}

	if len(filters) == 0 {
		filters = DefaultLogFilters
	}

	set := make(map[LogTopic]struct{}, len(filters))
	for _, topic := range filters {
		set[topic] = struct{}{}
	}

	return &APILogger{
		logger:   logger,
		filters:  set,
		patterns: patterns,
	}
}

// Enabled reports whether messages for the topic are written.
func (l *APILogger) Enabled(topic LogTopic) bool {
	if topic == "" {
		return true
	}

	if _, ok := l.filters[TopicAll]; ok {
		return true
	}

	_, ok := l.filters[topic]

	return ok
}

// Log writes a debug message.
func (l *APILogger) Log(topic LogTopic, msg string, fields map[string]interface{}) {
	if l.Enabled(topic) {
		l.logger.Debug(l.Tag()+l.Filter(msg), l.fields(topic, fields))
	}
}

// Info writes an info message.
func (l *APILogger) Info(topic LogTopic, msg string, fields map[string]interface{}) {
	if l.Enabled(topic) {
		l.logger.Info(l.Tag()+l.Filter(msg), l.fields(topic, fields))
	}
}

// Warn writes a warning.
func (l *APILogger) Warn(topic LogTopic, msg string, fields map[string]interface{}) {
	if l.Enabled(topic) {
		l.logger.Warn(l.Tag()+l.Filter(msg), l.fields(topic, fields))
	}
}

// Error writes an error.
func (l *APILogger) Error(topic LogTopic, msg string, fields map[string]interface{}) {
	if l.Enabled(topic) {
		l.logger.Error(l.Tag()+l.Filter(msg), l.fields(topic, fields))
	}
}

// SetUniquePrefix generates a new per-call prefix and returns it.
func (l *APILogger) SetUniquePrefix() string {
	prefix := RandomHex(constants.LogPrefixSize)

	l.mu.Lock()
	l.prefix = prefix
	l.mu.Unlock()

	return prefix
}

// ResetUniquePrefix clears the per-call prefix.
func (l *APILogger) ResetUniquePrefix() {
	l.mu.Lock()
	l.prefix = ""
	l.mu.Unlock()
}

// Tag returns "[prefix] " or an empty string outside of a call.
func (l *APILogger) Tag() string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.prefix == "" {
		return ""
	}

	return "[" + l.prefix + "] "
}

// Filter masks secrets in msg.
func (l *APILogger) Filter(msg string) string {
	for _, pattern := range l.patterns {
		msg = pattern.ReplaceAllString(msg, "${1}[FILTERED]${3}")
	}

	return msg
}

func (l *APILogger) fields(topic LogTopic, fields map[string]interface{}) map[string]interface{} {
	if topic == "" {
		return fields
	}

	result := make(map[string]interface{}, len(fields)+1)
	for key, value := range fields {
		if text, ok := value.(string); ok {
			value = l.Filter(text)
		}

		result[key] = value
	}

	result["topic"] = string(topic)

	return result
}
