package utils

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"teraresolve/internal"
)

// maxBodySize bounds how much of an upstream body is buffered
const maxBodySize = 16 << 20

// maxPooledTransports bounds the per-proxy transport pool. Proxies named by
// requests past the bound get a throwaway transport.
const maxPooledTransports = 16

// RetryConfig defines retry behavior configuration
type RetryConfig struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	JitterPercent float64
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// HTTPClientConfig contains configuration for the HTTP client
type HTTPClientConfig struct {
	Timeout           time.Duration // per attempt
	RetryConfig       *RetryConfig
	Headers           map[string]string
	Cookies           map[string]string
	RequestsPerSecond float64
	Transport         http.RoundTripper // replaces the pooled per-proxy transports when set
}

// HTTPClient owns the pooled transports and the fixed request material shared
// by every resolution. Per-resolution state lives in a Session.
type HTTPClient struct {
	timeout     time.Duration
	retryConfig *RetryConfig
	headers     map[string]string
	cookies     map[string]string
	limiter     *rate.Limiter
	override    http.RoundTripper

	mutex      sync.Mutex
	transports map[string]*http.Transport
}

// NewHTTPClient creates a new HTTP client with default configuration
func NewHTTPClient() *HTTPClient {
	return NewHTTPClientWithConfig(&HTTPClientConfig{
		Timeout:     30 * time.Second,
		RetryConfig: DefaultRetryConfig(),
	})
}

// NewHTTPClientWithConfig creates a new HTTP client with custom configuration
func NewHTTPClientWithConfig(config *HTTPClientConfig) *HTTPClient {
	if config.RetryConfig == nil {
		config.RetryConfig = DefaultRetryConfig()
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	c := &HTTPClient{
		timeout:     config.Timeout,
		retryConfig: config.RetryConfig,
		headers:     copyStringMap(config.Headers),
		cookies:     copyStringMap(config.Cookies),
		override:    config.Transport,
		transports:  make(map[string]*http.Transport),
	}
	if config.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}
	return c
}

func newTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// transportFor returns the pooled transport for a proxy, creating it once.
// Once the pool is full, unknown proxies get a transport that keeps no idle
// connections and is not retained.
func (c *HTTPClient) transportFor(proxyURL string) (http.RoundTripper, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if t, ok := c.transports[proxyURL]; ok {
		return c.roundTripper(t), nil
	}

	transport := newTransport()
	if proxyURL != "" {
		if err := configureProxy(transport, proxyURL); err != nil {
			return nil, internal.NewValidationErrorWithValue("proxy", err.Error(), proxyURL).
				WithSuggestion("Use http://, https:// or socks5:// proxy URLs")
		}
	}
	if len(c.transports) >= maxPooledTransports {
		internal.LogDebug("Transport pool full, using an unpooled proxy transport")
		transport.DisableKeepAlives = true
		return c.roundTripper(transport), nil
	}
	c.transports[proxyURL] = transport
	return c.roundTripper(transport), nil
}

func (c *HTTPClient) roundTripper(pooled *http.Transport) http.RoundTripper {
	if c.override != nil {
		return c.override
	}
	return pooled
}

// CloseIdleConnections releases idle connections of every pooled transport
func (c *HTTPClient) CloseIdleConnections() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for _, t := range c.transports {
		t.CloseIdleConnections()
	}
}

// configureProxy sets up proxy configuration for the transport
func configureProxy(transport *http.Transport, proxyURL string) error {
	parsedURL, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("invalid proxy URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("invalid proxy URL: missing host")
	}

	switch parsedURL.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsedURL)
	case "socks5", "socks5h":
		var auth *proxy.Auth
		if parsedURL.User != nil {
			password, _ := parsedURL.User.Password()
			auth = &proxy.Auth{User: parsedURL.User.Username(), Password: password}
		}
		dialer, err := proxy.SOCKS5("tcp", parsedURL.Host, auth, proxy.Direct)
		if err != nil {
			return fmt.Errorf("failed to create SOCKS5 proxy: %w", err)
		}
		if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = contextDialer.DialContext
		} else {
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	default:
		return fmt.Errorf("unsupported proxy scheme: %s", parsedURL.Scheme)
	}

	return nil
}

// Session is the per-resolution view of the client. Its cookie jar captures
// upstream Set-Cookie headers and is never shared between resolutions.
type Session struct {
	client   *HTTPClient
	jar      http.CookieJar
	follow   *http.Client
	noFollow *http.Client
}

// NewSession binds a fresh cookie jar and the given proxy ("" for direct)
func (c *HTTPClient) NewSession(proxyURL string) (*Session, error) {
	transport, err := c.transportFor(proxyURL)
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &Session{
		client: c,
		jar:    jar,
		follow: &http.Client{
			Transport: transport,
			Jar:       jar,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		noFollow: &http.Client{
			Transport: transport,
			Jar:       jar,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

// Cookies returns the cookies the session would send to rawURL
func (s *Session) Cookies(rawURL string) []*http.Cookie {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return s.jar.Cookies(u)
}

// Request describes one logical upstream call
type Request struct {
	Method          string
	URL             string
	Headers         map[string]string
	Params          url.Values
	FollowRedirects bool
	SkipBody        bool
	Retry           *RetryConfig // nil uses the client policy
}

// Response is a fully buffered upstream response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string // final URL after any followed redirects
}

// IsRedirect reports a 3xx status
func (r *Response) IsRedirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400
}

// Location returns the Location header resolved against the request URL
func (r *Response) Location() string {
	location := r.Header.Get("Location")
	if location == "" {
		return ""
	}
	base, err := url.Parse(r.URL)
	if err != nil {
		return location
	}
	ref, err := url.Parse(location)
	if err != nil {
		return location
	}
	return base.ResolveReference(ref).String()
}

// outcomeOf labels a finished attempt for the upstream request counter
func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	if retryableError(err) != nil {
		return "retryable"
	}
	return "fatal"
}

// retryableError returns err as a TeraboxError when another attempt may succeed
func retryableError(err error) *internal.TeraboxError {
	var teraboxErr *internal.TeraboxError
	if errors.As(err, &teraboxErr) && teraboxErr.IsRetryable() {
		return teraboxErr
	}
	return nil
}

// Execute performs req with the retry policy. Each attempt gets its own
// timeout; cancelling ctx stops the loop immediately.
func (s *Session) Execute(ctx context.Context, req *Request) (*Response, error) {
	policy := req.Retry
	if policy == nil {
		policy = s.client.retryConfig
	}
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var lastErr *internal.TeraboxError
	lastStatus := 0
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := retryDelay(policy, attempt, lastErr)
			internal.UpstreamRetries.WithLabelValues(retryReason(lastStatus, lastErr)).Inc()
			internal.LogWarn("Retrying %s %s (attempt %d/%d) in %s: %v",
				method, redactQuery(req.URL), attempt+1, maxAttempts, delay, lastErr)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, internal.NewTransportError(req.URL, 0, "request cancelled").WithCause(ctx.Err())
			}
		}

		resp, err := s.attempt(ctx, method, req)
		internal.UpstreamRequests.WithLabelValues(method, outcomeOf(err)).Inc()
		if err == nil {
			return resp, nil
		}

		lastErr = retryableError(err)
		if lastErr == nil {
			return nil, err
		}
		lastStatus = 0
		if resp != nil {
			lastStatus = resp.StatusCode
		}
	}

	finalErr := internal.NewTransportError(req.URL, lastStatus,
		fmt.Sprintf("request failed after %d attempts", maxAttempts)).
		WithCause(lastErr).
		WithContext("attempts", maxAttempts).
		WithRetryAfter(lastErr.RetryAfter)
	if lastErr.Type == internal.ErrNetworkTimeout {
		finalErr.Type = internal.ErrNetworkTimeout
	}
	return nil, finalErr
}

func (s *Session) attempt(ctx context.Context, method string, req *Request) (*Response, error) {
	if s.client.limiter != nil {
		if err := s.client.limiter.Wait(ctx); err != nil {
			return nil, internal.NewTransportError(req.URL, 0, "request cancelled").WithCause(err)
		}
	}

	target, err := buildURL(req.URL, req.Params)
	if err != nil {
		return nil, internal.NewTransportError(req.URL, 0, "invalid request URL").WithCause(err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, s.client.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, method, target.String(), nil)
	if err != nil {
		return nil, internal.NewTransportError(req.URL, 0, "failed to create request").WithCause(err)
	}
	for key, value := range s.client.headers {
		httpReq.Header.Set(key, value)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	s.addStaticCookies(httpReq)

	logger := internal.GetLogger()
	logger.LogHTTPRequest(httpReq)

	client := s.noFollow
	if req.FollowRedirects {
		client = s.follow
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, internal.NewTransportError(req.URL, 0, "request cancelled").WithCause(ctx.Err())
		}
		if attemptCtx.Err() == context.DeadlineExceeded || isTimeout(err) {
			return nil, internal.NewNetworkTimeoutError(method + " " + redactQuery(req.URL)).WithCause(err)
		}
		if isRetryableError(err) {
			return nil, internal.NewUnavailableError(req.URL, "connection failed").WithCause(err)
		}
		return nil, internal.NewTransportError(req.URL, 0, "request failed").WithCause(err)
	}
	defer httpResp.Body.Close()
	logger.LogHTTPResponse(httpResp)

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		URL:        httpResp.Request.URL.String(),
	}
	if !req.SkipBody {
		resp.Body, err = io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
		if err != nil {
			if ctx.Err() != nil {
				return nil, internal.NewTransportError(req.URL, 0, "request cancelled").WithCause(ctx.Err())
			}
			return nil, internal.NewUnavailableError(req.URL, "failed to read response body").WithCause(err)
		}
	}

	status := httpResp.StatusCode
	if status < 400 {
		return resp, nil
	}
	statusErr := internal.NewTransportError(req.URL, status,
		fmt.Sprintf("upstream returned %d %s", status, http.StatusText(status)))
	if statusErr.IsRetryable() {
		statusErr.WithRetryAfter(parseRetryAfter(httpResp.Header.Get("Retry-After"), time.Now()))
	}
	return resp, statusErr
}

// addStaticCookies sends the configured cookie set unless the jar already
// holds an upstream value with the same name.
func (s *Session) addStaticCookies(req *http.Request) {
	if len(s.client.cookies) == 0 {
		return
	}
	present := make(map[string]bool)
	for _, cookie := range s.jar.Cookies(req.URL) {
		present[cookie.Name] = true
	}
	for name, value := range s.client.cookies {
		if !present[name] {
			req.AddCookie(&http.Cookie{Name: name, Value: value})
		}
	}
}

func buildURL(rawURL string, params url.Values) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if len(params) > 0 {
		query := u.Query()
		for key, values := range params {
			query[key] = values
		}
		u.RawQuery = query.Encode()
	}
	return u, nil
}

// retryDelay is the backoff for attempt, raised to the upstream's Retry-After
// hint. MaxDelay caps both.
func retryDelay(policy *RetryConfig, attempt int, lastErr *internal.TeraboxError) time.Duration {
	delay := calculateDelay(policy, attempt)
	if lastErr == nil || lastErr.RetryAfter <= 0 {
		return delay
	}
	hint := time.Duration(lastErr.RetryAfter) * time.Second
	if policy.MaxDelay > 0 && hint > policy.MaxDelay {
		hint = policy.MaxDelay
	}
	if hint > delay {
		return hint
	}
	return delay
}

// parseRetryAfter reads a Retry-After value given in seconds or as an HTTP
// date. Unparseable or past values yield 0.
func parseRetryAfter(value string, now time.Time) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return seconds
	}
	at, err := http.ParseTime(value)
	if err != nil {
		return 0
	}
	wait := at.Sub(now)
	if wait <= 0 {
		return 0
	}
	return int(math.Ceil(wait.Seconds()))
}

// calculateDelay returns BaseDelay * Multiplier^(attempt-1), capped at MaxDelay
func calculateDelay(policy *RetryConfig, attempt int) time.Duration {
	multiplier := policy.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	delay := float64(policy.BaseDelay) * math.Pow(multiplier, float64(attempt-1))

	if policy.JitterPercent > 0 {
		delay += delay * policy.JitterPercent * (rand.Float64()*2 - 1)
	}

	if policy.MaxDelay > 0 && delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}

	if delay < 0 {
		delay = float64(policy.BaseDelay)
	}

	return time.Duration(delay)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isRetryableError determines if a transport error should trigger a retry
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	retryableErrors := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"no such host",
		"network is unreachable",
		"temporary failure",
		"eof",
		"tls handshake",
	}

	for _, retryableErr := range retryableErrors {
		if strings.Contains(errStr, retryableErr) {
			return true
		}
	}

	return false
}

func retryReason(status int, err *internal.TeraboxError) string {
	if status != 0 {
		return strconv.Itoa(status)
	}
	if err != nil && err.Type == internal.ErrNetworkTimeout {
		return "timeout"
	}
	return "network"
}

func redactQuery(rawURL string) string {
	if i := strings.Index(rawURL, "?"); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

func copyStringMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
