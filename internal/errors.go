package internal

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType represents different types of errors
type ErrorType int

const (
	ErrInvalidURL ErrorType = iota
	ErrTransport
	ErrRateLimit
	ErrNetworkTimeout
	ErrTokenMissing
	ErrLogIDMissing
	ErrShareIDMissing
	ErrListingEmpty
	ErrInvalidResponse
	ErrRedirectFailed
	ErrAuthRequired
	ErrUpstreamUnavailable
)

// Stage names the pipeline step an error type belongs to
type Stage string

const (
	StageValidation Stage = "validation"
	StageTransport  Stage = "transport"
	StageExtraction Stage = "extraction"
	StageParse      Stage = "parse"
	StageListing    Stage = "listing"
	StageRedirect   Stage = "redirect"
)

// ErrorSeverity represents the severity of an error
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// Sentinels matched with errors.Is against a TeraboxError of the same type.
var (
	ErrJSTokenNotFound = errors.New("jsToken not found in share page")
	ErrLogIDNotFound   = errors.New("log id not found in share page")
	ErrNoShareID       = errors.New("share identifier not derivable from URL")
	ErrNoFiles         = errors.New("no files found in shared link")
)

// TeraboxError represents a resolution failure with the stage that produced it
type TeraboxError struct {
	Code       int                    `json:"errno"`
	Message    string                 `json:"errmsg"`
	Type       ErrorType              `json:"type"`
	Severity   ErrorSeverity          `json:"severity"`
	URL        string                 `json:"url,omitempty"`
	Suggestion string                 `json:"suggestion,omitempty"`
	RetryAfter int                    `json:"retry_after,omitempty"` // seconds
	Context    map[string]interface{} `json:"context,omitempty"`
	Cause      error                  `json:"-"`
}

// Error implements the error interface
func (e *TeraboxError) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("%s error (code: %d, type: %s)", e.Stage(), e.Code, e.Type.String()))

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " - ")
}

// Unwrap exposes the underlying cause
func (e *TeraboxError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel errors by type so callers can use errors.Is
func (e *TeraboxError) Is(target error) bool {
	switch target {
	case ErrJSTokenNotFound:
		return e.Type == ErrTokenMissing
	case ErrLogIDNotFound:
		return e.Type == ErrLogIDMissing
	case ErrNoShareID:
		return e.Type == ErrShareIDMissing
	case ErrNoFiles:
		return e.Type == ErrListingEmpty
	}
	return false
}

// Stage returns the pipeline stage the error occurred in
func (e *TeraboxError) Stage() Stage {
	return e.Type.Stage()
}

// DetailedError returns a detailed error message with all available information
func (e *TeraboxError) DetailedError() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s] %s Error (stage: %s)", e.Severity.String(), e.Type.String(), e.Stage()))

	if e.Code != 0 {
		parts = append(parts, fmt.Sprintf("Code: %d", e.Code))
	}
	if e.Message != "" {
		parts = append(parts, fmt.Sprintf("Message: %s", e.Message))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause: %v", e.Cause))
	}

	if e.URL != "" {
		parts = append(parts, fmt.Sprintf("URL: %s", redactSensitiveURL(e.URL)))
	}

	if len(e.Context) > 0 {
		parts = append(parts, fmt.Sprintf("Context: %s", formatContext(e.Context)))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("\nSuggestion: %s", e.Suggestion))
	}

	if e.RetryAfter > 0 {
		parts = append(parts, fmt.Sprintf("Retry after: %d seconds", e.RetryAfter))
	}

	return strings.Join(parts, "\n")
}

// String returns the string representation of ErrorType
func (et ErrorType) String() string {
	switch et {
	case ErrInvalidURL:
		return "InvalidURL"
	case ErrTransport:
		return "Transport"
	case ErrRateLimit:
		return "RateLimit"
	case ErrNetworkTimeout:
		return "NetworkTimeout"
	case ErrTokenMissing:
		return "TokenMissing"
	case ErrLogIDMissing:
		return "LogIDMissing"
	case ErrShareIDMissing:
		return "ShareIDMissing"
	case ErrListingEmpty:
		return "ListingEmpty"
	case ErrInvalidResponse:
		return "InvalidResponse"
	case ErrRedirectFailed:
		return "RedirectFailed"
	case ErrAuthRequired:
		return "AuthRequired"
	case ErrUpstreamUnavailable:
		return "UpstreamUnavailable"
	default:
		return "Unknown"
	}
}

// Stage maps an error type onto the pipeline stage that raises it
func (et ErrorType) Stage() Stage {
	switch et {
	case ErrInvalidURL:
		return StageValidation
	case ErrTransport, ErrRateLimit, ErrNetworkTimeout, ErrAuthRequired, ErrUpstreamUnavailable:
		return StageTransport
	case ErrTokenMissing, ErrLogIDMissing:
		return StageExtraction
	case ErrShareIDMissing:
		return StageParse
	case ErrListingEmpty, ErrInvalidResponse:
		return StageListing
	case ErrRedirectFailed:
		return StageRedirect
	default:
		return StageTransport
	}
}

// String returns the string representation of ErrorSeverity
func (es ErrorSeverity) String() string {
	switch es {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// NewTeraboxError creates a new TeraboxError with default suggestion and severity
func NewTeraboxError(code int, message string, errorType ErrorType) *TeraboxError {
	return &TeraboxError{
		Code:       code,
		Message:    message,
		Type:       errorType,
		Severity:   getDefaultSeverity(errorType),
		Suggestion: getDefaultSuggestion(errorType, code),
		Context:    make(map[string]interface{}),
	}
}

// WithSuggestion adds a custom suggestion to the error
func (e *TeraboxError) WithSuggestion(suggestion string) *TeraboxError {
	e.Suggestion = suggestion
	return e
}

// WithURL adds URL context to the error (will be redacted in logs)
func (e *TeraboxError) WithURL(url string) *TeraboxError {
	e.URL = url
	return e
}

// WithRetryAfter records the upstream's Retry-After hint in seconds
func (e *TeraboxError) WithRetryAfter(seconds int) *TeraboxError {
	e.RetryAfter = seconds
	return e
}

// WithCause records the underlying error
func (e *TeraboxError) WithCause(err error) *TeraboxError {
	e.Cause = err
	return e
}

// WithContext adds context information to the error
func (e *TeraboxError) WithContext(key string, value interface{}) *TeraboxError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// IsRetryable reports whether another attempt of the same request may succeed
func (e *TeraboxError) IsRetryable() bool {
	switch e.Type {
	case ErrNetworkTimeout, ErrRateLimit, ErrUpstreamUnavailable:
		return true
	default:
		return false
	}
}

// IsCritical returns true if the error is critical and should stop execution
func (e *TeraboxError) IsCritical() bool {
	return e.Severity == SeverityCritical
}

// ValidationError represents input validation errors. It never reaches the network.
type ValidationError struct {
	Field      string                 `json:"field"`
	Message    string                 `json:"message"`
	Value      interface{}            `json:"value,omitempty"`
	Suggestion string                 `json:"suggestion,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	parts := []string{fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("Suggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, " - ")
}

// DetailedError returns a detailed validation error message
func (e *ValidationError) DetailedError() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Validation Error for field '%s'", e.Field))
	parts = append(parts, fmt.Sprintf("Message: %s", e.Message))

	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("Provided value: %v", e.Value))
	}

	if len(e.Context) > 0 {
		parts = append(parts, fmt.Sprintf("Context: %s", formatContext(e.Context)))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("\nSuggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, "\n")
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewValidationErrorWithValue creates a ValidationError with the invalid value
func NewValidationErrorWithValue(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
		Context: make(map[string]interface{}),
	}
}

// WithSuggestion adds a suggestion to the validation error
func (e *ValidationError) WithSuggestion(suggestion string) *ValidationError {
	e.Suggestion = suggestion
	return e
}

// WithContext adds context to the validation error
func (e *ValidationError) WithContext(key string, value interface{}) *ValidationError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// StageOf reports the pipeline stage of any error produced by the resolver
func StageOf(err error) Stage {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return StageValidation
	}
	var teraboxErr *TeraboxError
	if errors.As(err, &teraboxErr) {
		return teraboxErr.Stage()
	}
	return StageTransport
}

func getDefaultSuggestion(errorType ErrorType, code int) string {
	switch errorType {
	case ErrInvalidURL:
		return "Please ensure the URL is a valid TeraBox share link (e.g., https://terabox.com/s/...)"
	case ErrTransport:
		if code >= 500 {
			return "Upstream server error occurred. Please try again later"
		}
		return "The upstream request failed. Check connectivity or try a proxy"
	case ErrRateLimit:
		return "Upstream is throttling requests. Wait before retrying or use a proxy"
	case ErrUpstreamUnavailable:
		return "Upstream is temporarily unavailable. Try again shortly or use a proxy"
	case ErrNetworkTimeout:
		return "Check your internet connection and try again. Consider using a proxy if needed"
	case ErrTokenMissing, ErrLogIDMissing:
		return "The share page markup may have changed, or the session cookies are no longer accepted"
	case ErrShareIDMissing:
		return "Use a share link of the form https://terabox.com/s/<id>"
	case ErrListingEmpty:
		return "Verify the share link is still valid and the files haven't been removed"
	case ErrInvalidResponse:
		return "Invalid response from the listing endpoint. The API might have changed"
	case ErrRedirectFailed:
		return "The original download link is still usable"
	case ErrAuthRequired:
		return "Provide fresh session cookies using --cookies or TERARESOLVE_COOKIES"
	default:
		return "Please check the error details and try again"
	}
}

func getDefaultSeverity(errorType ErrorType) ErrorSeverity {
	switch errorType {
	case ErrRateLimit, ErrNetworkTimeout, ErrUpstreamUnavailable, ErrRedirectFailed:
		return SeverityWarning
	case ErrAuthRequired:
		return SeverityCritical
	default:
		return SeverityError
	}
}

// redactSensitiveURL drops the query string, which carries tokens and signatures
func redactSensitiveURL(url string) string {
	if i := strings.Index(url, "?"); i >= 0 {
		return url[:i] + "?[REDACTED]"
	}
	return url
}

func formatContext(ctx map[string]interface{}) string {
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, ctx[k]))
	}
	return strings.Join(parts, ", ")
}

// Common error constructors for frequently used errors

// NewInvalidURLError creates an error for unsupported share URLs
func NewInvalidURLError(url string, reason string) *ValidationError {
	return NewValidationErrorWithValue("url", reason, url).
		WithSuggestion("Please provide a valid TeraBox share URL (https://terabox.com/s/...)")
}

// NewTransportError creates an error for a failed upstream request
func NewTransportError(url string, status int, message string) *TeraboxError {
	errType := ErrTransport
	switch status {
	case 429:
		errType = ErrRateLimit
	case 401:
		errType = ErrAuthRequired
	case 403, 502, 503:
		errType = ErrUpstreamUnavailable
	}
	return NewTeraboxError(status, message, errType).WithURL(url)
}

// NewUnavailableError creates a retryable error for a dropped connection
func NewUnavailableError(url string, message string) *TeraboxError {
	return NewTeraboxError(0, message, ErrUpstreamUnavailable).WithURL(url)
}

// NewNetworkTimeoutError creates an error for network timeouts
func NewNetworkTimeoutError(operation string) *TeraboxError {
	return NewTeraboxError(408, fmt.Sprintf("Network timeout during %s", operation), ErrNetworkTimeout)
}

// NewExtractionError creates an error naming the token that could not be found
func NewExtractionError(errorType ErrorType, patterns int) *TeraboxError {
	var message string
	switch errorType {
	case ErrTokenMissing:
		message = "Could not extract jsToken"
	case ErrLogIDMissing:
		message = "Could not extract log_id"
	default:
		message = "Could not extract session tokens"
	}
	return NewTeraboxError(0, message, errorType).WithContext("patterns_tried", patterns)
}

// NewShareIDError creates an error for URLs that yield no surl
func NewShareIDError(urls ...string) *TeraboxError {
	err := NewTeraboxError(0, "Could not extract surl from URL", ErrShareIDMissing)
	for i, u := range urls {
		err.WithContext(fmt.Sprintf("url_%d", i), redactSensitiveURL(u))
	}
	return err
}

// NewListingError creates an error for a listing that produced no entries
func NewListingError(errno int, message string) *TeraboxError {
	return NewTeraboxError(errno, message, ErrListingEmpty)
}
