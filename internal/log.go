package internal

import (
	"errors"
	"io"
	"os"
	"strings"
	"sync"
)

var (
	// Global logger instance
	globalLogger *SecureLogger
	loggerMutex  sync.RWMutex
)

// InitLogger initializes the global logger with the given configuration
func InitLogger(config *Config) error {
	var output io.Writer = os.Stderr
	if config.LogFile != "" {
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return NewValidationError("log_file", "failed to open log file").
				WithSuggestion("Check file permissions and path validity").
				WithContext("file", config.LogFile).
				WithContext("error", err.Error())
		}
		output = file
	}

	SetLogger(NewSecureLogger(output, parseLogLevel(config.LogLevel), config.EnableDebug, config.QuietMode))
	return nil
}

// SetLogger replaces the global logger
func SetLogger(logger *SecureLogger) {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	globalLogger = logger
}

// GetLogger returns the global logger instance
func GetLogger() *SecureLogger {
	loggerMutex.RLock()
	logger := globalLogger
	loggerMutex.RUnlock()
	if logger != nil {
		return logger
	}

	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	if globalLogger == nil {
		globalLogger = NewDefaultLogger(false, false)
	}
	return globalLogger
}

// parseLogLevel converts string log level to LogLevel enum
func parseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Convenience functions for global logging

// LogError logs an error message using the global logger
func LogError(format string, args ...interface{}) {
	logger := GetLogger()
	logger.backend.Helper()
	logger.Error(format, args...)
}

// LogWarn logs a warning message using the global logger
func LogWarn(format string, args ...interface{}) {
	logger := GetLogger()
	logger.backend.Helper()
	logger.Warn(format, args...)
}

// LogInfo logs an info message using the global logger
func LogInfo(format string, args ...interface{}) {
	logger := GetLogger()
	logger.backend.Helper()
	logger.Info(format, args...)
}

// LogDebug logs a debug message using the global logger
func LogDebug(format string, args ...interface{}) {
	logger := GetLogger()
	logger.backend.Helper()
	logger.Debug(format, args...)
}

// LogTeraboxError logs a TeraboxError with appropriate level and detail
func LogTeraboxError(err *TeraboxError) {
	logger := GetLogger()

	if err.IsCritical() {
		logger.Error("CRITICAL: %s", err.DetailedError())
		return
	}

	switch err.Severity {
	case SeverityWarning:
		logger.Warn("%s", err.DetailedError())
	case SeverityInfo:
		logger.Info("%s", err.DetailedError())
	default:
		logger.Error("%s", err.DetailedError())
	}
}

// LogValidationError logs a ValidationError
func LogValidationError(err *ValidationError) {
	GetLogger().Warn("Validation Error: %s", err.DetailedError())
}

// LogResolutionError logs any error returned by the resolution pipeline
func LogResolutionError(err error) {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		LogValidationError(validationErr)
		return
	}
	var teraboxErr *TeraboxError
	if errors.As(err, &teraboxErr) {
		LogTeraboxError(teraboxErr)
		return
	}
	GetLogger().Error("%v", err)
}
