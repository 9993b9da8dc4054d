package internal

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// LogLevel represents different logging levels
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "ERROR"
	case LogLevelWarn:
		return "WARN"
	case LogLevelInfo:
		return "INFO"
	case LogLevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// SecureLogger filters by level and redacts session material before handing
// messages to the charmbracelet backend.
type SecureLogger struct {
	mu        sync.RWMutex
	backend   *log.Logger
	level     LogLevel
	debug     bool
	quiet     bool
	redactors []Redactor
}

// Redactor defines an interface for redacting sensitive information
type Redactor interface {
	Redact(input string) string
}

// CookieRedactor masks cookie values and credential headers
type CookieRedactor struct{}

var cookieMarkers = []string{
	"ndus=",
	"ndut_fmt=",
	"BDUSS=",
	"STOKEN=",
	"csrfToken=",
	"browserid=",
	"TSID=",
	"Authorization:",
	"Bearer ",
}

func (r *CookieRedactor) Redact(input string) string {
	result := input
	for _, marker := range cookieMarkers {
		result = redactAfter(result, marker, " ;&\n\r")
	}
	return result
}

// URLRedactor masks session tokens carried in query strings
type URLRedactor struct{}

var sensitiveParams = []string{
	"jsToken=",
	"dplogid=",
	"dp-logid=",
	"access_token=",
	"token=",
	"sign=",
	"pwd=",
}

func (r *URLRedactor) Redact(input string) string {
	result := input
	for _, param := range sensitiveParams {
		result = redactAfter(result, param, "&'\" \n")
	}
	return result
}

// markerBoundaries are the bytes a marker may follow; jsToken= must not
// match STOKEN= or token=.
const markerBoundaries = " \t\n\r;?&,\"'("

// redactAfter replaces every value following marker (case-insensitive) up to
// the first stop byte. The marker only counts at the start of input or after
// a boundary byte.
func redactAfter(input, marker, stops string) string {
	const mask = "[REDACTED]"
	lowerMarker := strings.ToLower(marker)
	result := input
	from := 0
	for from < len(result) {
		index := strings.Index(strings.ToLower(result[from:]), lowerMarker)
		if index == -1 {
			break
		}
		at := from + index
		if at > 0 && !strings.ContainsRune(markerBoundaries, rune(result[at-1])) {
			from = at + 1
			continue
		}
		start := at + len(marker)
		end := start
		for end < len(result) && !strings.ContainsRune(stops, rune(result[end])) {
			end++
		}
		if end > start && result[start:end] != mask {
			result = result[:start] + mask + result[end:]
			end = start + len(mask)
		}
		from = end
	}
	return result
}

// NewSecureLogger creates a new secure logger
func NewSecureLogger(output io.Writer, level LogLevel, debug, quiet bool) *SecureLogger {
	backend := log.NewWithOptions(output, log.Options{
		Level:           log.DebugLevel,
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02 15:04:05",
		ReportCaller:    debug,
	})

	if debug && level < LogLevelDebug {
		level = LogLevelDebug
	}

	return &SecureLogger{
		backend: backend,
		level:   level,
		debug:   debug,
		quiet:   quiet,
		redactors: []Redactor{
			&CookieRedactor{},
			&URLRedactor{},
		},
	}
}

// NewDefaultLogger creates a logger with default settings
func NewDefaultLogger(debug, quiet bool) *SecureLogger {
	level := LogLevelInfo
	if debug {
		level = LogLevelDebug
	}
	if quiet {
		level = LogLevelError
	}

	return NewSecureLogger(os.Stderr, level, debug, quiet)
}

// redactSensitiveData applies all redactors to the input string
func (sl *SecureLogger) redactSensitiveData(input string) string {
	sl.mu.RLock()
	redactors := sl.redactors
	sl.mu.RUnlock()

	result := input
	for _, redactor := range redactors {
		result = redactor.Redact(result)
	}
	return result
}

// shouldLog determines if a message should be logged based on level
func (sl *SecureLogger) shouldLog(level LogLevel) bool {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	if sl.quiet && level > LogLevelError {
		return false
	}
	return level <= sl.level
}

func (sl *SecureLogger) emit(level LogLevel, format string, args ...interface{}) {
	sl.backend.Helper()
	if !sl.shouldLog(level) {
		return
	}

	message := sl.redactSensitiveData(fmt.Sprintf(format, args...))
	switch level {
	case LogLevelError:
		sl.backend.Error(message)
	case LogLevelWarn:
		sl.backend.Warn(message)
	case LogLevelInfo:
		sl.backend.Info(message)
	default:
		sl.backend.Debug(message)
	}
}

// Error logs an error message
func (sl *SecureLogger) Error(format string, args ...interface{}) {
	sl.backend.Helper()
	sl.emit(LogLevelError, format, args...)
}

// Warn logs a warning message
func (sl *SecureLogger) Warn(format string, args ...interface{}) {
	sl.backend.Helper()
	sl.emit(LogLevelWarn, format, args...)
}

// Info logs an info message
func (sl *SecureLogger) Info(format string, args ...interface{}) {
	sl.backend.Helper()
	sl.emit(LogLevelInfo, format, args...)
}

// Debug logs a debug message
func (sl *SecureLogger) Debug(format string, args ...interface{}) {
	sl.backend.Helper()
	sl.emit(LogLevelDebug, format, args...)
}

// LogHTTPRequest logs an HTTP request with sensitive data redacted
func (sl *SecureLogger) LogHTTPRequest(req *http.Request) {
	sl.backend.Helper()
	if !sl.shouldLog(LogLevelDebug) {
		return
	}

	sl.Debug("HTTP Request: %s %s Headers: %v", req.Method, req.URL.String(), sl.sanitizeHeaders(req.Header))
}

// LogHTTPResponse logs an HTTP response with sensitive data redacted
func (sl *SecureLogger) LogHTTPResponse(resp *http.Response) {
	sl.backend.Helper()
	if !sl.shouldLog(LogLevelDebug) {
		return
	}

	sl.Debug("HTTP Response: %s Headers: %v", resp.Status, sl.sanitizeHeaders(resp.Header))
}

func (sl *SecureLogger) sanitizeHeaders(header http.Header) map[string]string {
	sanitized := make(map[string]string, len(header))
	for name, values := range header {
		if isSensitiveHeader(name) {
			sanitized[name] = "[REDACTED]"
		} else {
			sanitized[name] = strings.Join(values, ", ")
		}
	}
	return sanitized
}

// isSensitiveHeader checks if a header contains sensitive information
func isSensitiveHeader(name string) bool {
	sensitiveHeaders := []string{
		"authorization",
		"cookie",
		"set-cookie",
		"x-auth-token",
		"x-api-key",
		"token",
	}

	lowerName := strings.ToLower(name)
	for _, sensitive := range sensitiveHeaders {
		if strings.Contains(lowerName, sensitive) {
			return true
		}
	}
	return false
}

// SetLevel sets the logging level
func (sl *SecureLogger) SetLevel(level LogLevel) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.level = level
}

// SetDebug enables or disables debug mode
func (sl *SecureLogger) SetDebug(debug bool) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.debug = debug
	sl.backend.SetReportCaller(debug)
	if debug && sl.level < LogLevelDebug {
		sl.level = LogLevelDebug
	}
}

// SetQuiet enables or disables quiet mode
func (sl *SecureLogger) SetQuiet(quiet bool) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.quiet = quiet
	if quiet {
		sl.level = LogLevelError
	}
}

// AddRedactor adds a custom redactor
func (sl *SecureLogger) AddRedactor(redactor Redactor) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.redactors = append(sl.redactors, redactor)
}
