package internal

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "TERARESOLVE_"

// DefaultListingEndpoint is the internal share listing API
const DefaultListingEndpoint = "https://www.1024tera.com/share/list"

// Config holds process-scoped, read-only resolver configuration
type Config struct {
	// Transport
	Timeout        time.Duration // per attempt
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	UpstreamRPS    float64
	ProxyURL       string

	// Pipeline
	ListingEndpoint string
	ListingVersion  int
	Workers         int
	RedirectDepth   int
	DirectRetries   int
	AllowedDomains  []string

	// Fixed request material
	Headers    map[string]string
	Cookies    map[string]string
	CookieFile string
	ConfigFile string

	// HTTP service
	Port           string
	RateLimitRPM   int
	CORSOrigins    []string
	TrustedProxies []string // IPs or CIDRs allowed to set X-Forwarded-For
	CacheTTL       time.Duration

	// Logging configuration
	LogLevel    string
	EnableDebug bool
	QuietMode   bool
	LogFile     string
}

// fileConfig is the YAML document accepted via TERARESOLVE_CONFIG
type fileConfig struct {
	Headers         map[string]string `yaml:"headers"`
	Cookies         map[string]string `yaml:"cookies"`
	ListingEndpoint string            `yaml:"listing_endpoint"`
	ListingVersion  int               `yaml:"listing_version"`
	AllowedDomains  []string          `yaml:"allowed_domains"`
	Proxy           string            `yaml:"proxy"`
	CookieFile      string            `yaml:"cookie_file"`
}

// SupportedDomains lists the share hosts accepted without the www. prefix
var SupportedDomains = []string{
	"terabox.com",
	"1024terabox.com",
	"teraboxapp.com",
	"teraboxlink.com",
	"terasharelink.com",
	"terafileshare.com",
	"1024tera.com",
	"1024tera.cn",
	"teraboxdrive.com",
	"dubox.com",
}

// DefaultHeaders returns the fixed browser header set sent with every request
func DefaultHeaders() map[string]string {
	return map[string]string{
		"User-Agent":                "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:135.0) Gecko/20100101 Firefox/135.0",
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language":           "en-US,en;q=0.5",
		"Connection":                "keep-alive",
		"Upgrade-Insecure-Requests": "1",
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "none",
		"Sec-Fetch-User":            "?1",
		"Priority":                  "u=0, i",
	}
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	domains := make([]string, len(SupportedDomains))
	copy(domains, SupportedDomains)

	return &Config{
		Timeout:        30 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: 2 * time.Second,
		RetryMaxDelay:  30 * time.Second,

		ListingEndpoint: DefaultListingEndpoint,
		ListingVersion:  2,
		Workers:         5,
		RedirectDepth:   5,
		DirectRetries:   1,
		AllowedDomains:  domains,

		Headers: DefaultHeaders(),
		Cookies: map[string]string{
			"lang":   "en",
			"PANWEB": "1",
		},

		Port:         "3000",
		RateLimitRPM: 60,
		CORSOrigins:  []string{"*"},

		// Logging defaults
		LogLevel: "info",
		LogFile:  "", // Empty means stderr
	}
}

// Load builds a configuration from defaults, an optional .env file, the
// environment and the optional YAML file, in that order.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	cfg.LoadFromEnv()

	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() {
	c.Timeout = getSeconds("TIMEOUT", c.Timeout)
	c.MaxRetries = getInt("MAX_RETRIES", c.MaxRetries)
	c.RetryBaseDelay = getDuration("RETRY_DELAY", c.RetryBaseDelay)
	c.RetryMaxDelay = getDuration("RETRY_MAX_DELAY", c.RetryMaxDelay)
	c.UpstreamRPS = getFloat("UPSTREAM_RPS", c.UpstreamRPS)
	c.ProxyURL = getEnv("PROXY", c.ProxyURL)

	c.ListingEndpoint = getEnv("LISTING_ENDPOINT", c.ListingEndpoint)
	c.ListingVersion = getInt("LISTING_VERSION", c.ListingVersion)
	c.Workers = getInt("WORKERS", c.Workers)
	c.RedirectDepth = getInt("REDIRECT_DEPTH", c.RedirectDepth)
	c.DirectRetries = getInt("DIRECT_RETRIES", c.DirectRetries)

	c.CookieFile = getEnv("COOKIES", c.CookieFile)
	c.ConfigFile = getEnv("CONFIG", c.ConfigFile)

	c.Port = getEnv("PORT", c.Port)
	c.RateLimitRPM = getInt("RATE_LIMIT_RPM", c.RateLimitRPM)
	if origins := splitCSV(getEnv("CORS_ORIGINS", "")); len(origins) > 0 {
		c.CORSOrigins = origins
	}
	c.CacheTTL = getSeconds("CACHE_TTL", c.CacheTTL)
	if proxies := splitCSV(getEnv("TRUSTED_PROXIES", "")); len(proxies) > 0 {
		c.TrustedProxies = proxies
	}

	// Load logging configuration from environment
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.EnableDebug = getBool("DEBUG", c.EnableDebug)
	c.QuietMode = getBool("QUIET", c.QuietMode)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
}

// LoadFile merges a YAML configuration file into c. Header and cookie keys
// override the defaults individually.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return NewValidationError("config", "failed to read config file").
			WithContext("file", path).
			WithContext("error", err.Error())
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return NewValidationError("config", fmt.Sprintf("invalid YAML: %v", err)).
			WithContext("file", path)
	}

	if c.Headers == nil {
		c.Headers = make(map[string]string)
	}
	for k, v := range fc.Headers {
		c.Headers[k] = v
	}
	if c.Cookies == nil {
		c.Cookies = make(map[string]string)
	}
	for k, v := range fc.Cookies {
		c.Cookies[k] = v
	}

	if fc.ListingEndpoint != "" {
		c.ListingEndpoint = fc.ListingEndpoint
	}
	if fc.ListingVersion > 0 {
		c.ListingVersion = fc.ListingVersion
	}
	if len(fc.AllowedDomains) > 0 {
		c.AllowedDomains = fc.AllowedDomains
	}
	if fc.Proxy != "" {
		c.ProxyURL = fc.Proxy
	}
	if fc.CookieFile != "" && c.CookieFile == "" {
		c.CookieFile = fc.CookieFile
	}

	return nil
}

// ValidateConfig validates the configuration values
func (c *Config) ValidateConfig() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("invalid timeout: %s (must be > 0)", c.Timeout)
	}

	if c.MaxRetries < 1 {
		return fmt.Errorf("invalid max retries: %d (must be >= 1)", c.MaxRetries)
	}

	if c.RetryBaseDelay < 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("invalid retry delays: base %s, max %s", c.RetryBaseDelay, c.RetryMaxDelay)
	}

	if c.Workers < 1 || c.Workers > 32 {
		return fmt.Errorf("invalid workers: %d (must be 1-32)", c.Workers)
	}

	if c.RedirectDepth < 1 {
		return fmt.Errorf("invalid redirect depth: %d (must be >= 1)", c.RedirectDepth)
	}

	if c.DirectRetries < 1 {
		return fmt.Errorf("invalid direct-link retries: %d (must be >= 1)", c.DirectRetries)
	}

	if c.ListingVersion < 1 {
		return fmt.Errorf("invalid listing version: %d (must be >= 1)", c.ListingVersion)
	}

	if strings.TrimSpace(c.ListingEndpoint) == "" {
		return fmt.Errorf("listing endpoint cannot be empty")
	}

	if len(c.Headers) == 0 {
		return fmt.Errorf("header set cannot be empty")
	}

	if len(c.AllowedDomains) == 0 {
		return fmt.Errorf("allowed domains list cannot be empty")
	}

	if c.UpstreamRPS < 0 {
		return fmt.Errorf("invalid upstream rate: %v (must be >= 0)", c.UpstreamRPS)
	}

	for _, entry := range c.TrustedProxies {
		if !validProxyEntry(entry) {
			return fmt.Errorf("invalid trusted proxy: %q (must be an IP or CIDR)", entry)
		}
	}

	return nil
}

func validProxyEntry(entry string) bool {
	if strings.Contains(entry, "/") {
		_, err := netip.ParsePrefix(entry)
		return err == nil
	}
	_, err := netip.ParseAddr(entry)
	return err == nil
}

func getEnv(key string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	if v == "" {
		return fallback
	}

	return v
}

func getInt(key string, fallback int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getFloat(key string, fallback float64) float64 {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}

	return v
}

func getBool(key string, fallback bool) bool {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}

	return raw == "true" || raw == "1"
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}

	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return v
}

// getSeconds accepts either a bare number of seconds or a Go duration
func getSeconds(key string, fallback time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}

	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Second
	}

	return getDuration(key, fallback)
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}

	return out
}
