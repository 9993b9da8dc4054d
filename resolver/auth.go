package resolver

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"teraresolve/internal"
)

const httpOnlyPrefix = "#HttpOnly_"

// sessionCookie is the cookie TeraBox uses to identify a logged-in browser
const sessionCookie = "ndus"

// CookieAuthManager loads the cookie material sent with upstream requests
type CookieAuthManager struct {
	cookieStore map[string]*http.Cookie
	mutex       sync.RWMutex
	now         func() time.Time
}

// NewCookieAuthManager creates a new instance of CookieAuthManager
func NewCookieAuthManager() *CookieAuthManager {
	return &CookieAuthManager{
		cookieStore: make(map[string]*http.Cookie),
		now:         time.Now,
	}
}

// LoadCookies loads cookies from a Netscape-format file (as exported by
// browser extensions). Expired cookies are dropped.
func (a *CookieAuthManager) LoadCookies(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, internal.NewValidationError("cookies", "failed to open cookie file").
			WithContext("file", path).
			WithContext("error", err.Error())
	}
	defer file.Close()

	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.clearCookies()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if strings.HasPrefix(line, httpOnlyPrefix) {
			line = strings.TrimPrefix(line, httpOnlyPrefix)
		} else if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		cookie, err := parseNetscapeCookieLine(line)
		if err != nil {
			return nil, internal.NewValidationError("cookies", fmt.Sprintf("invalid cookie format at line %d: %v", lineNum, err)).
				WithContext("file", path).
				WithSuggestion("Export cookies in Netscape format (tab separated, 7 fields)")
		}

		if !cookie.Expires.IsZero() && a.now().After(cookie.Expires) {
			internal.LogWarn("Skipping expired cookie %s (expired %s)", cookie.Name, cookie.Expires.Format(time.RFC3339))
			continue
		}

		a.cookieStore[cookie.Name] = cookie
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading cookie file: %w", err)
	}

	cookies := make(map[string]string, len(a.cookieStore))
	for name, cookie := range a.cookieStore {
		cookies[name] = cookie.Value
	}

	internal.LogDebug("Loaded %d cookies from %s", len(cookies), path)
	return cookies, nil
}

// parseNetscapeCookieLine parses a single line from Netscape cookie format
// Format: domain	flag	path	secure	expiration	name	value
func parseNetscapeCookieLine(line string) (*http.Cookie, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 7 {
		return nil, fmt.Errorf("expected 7 fields, got %d", len(fields))
	}

	domain := fields[0]
	path := fields[2]
	secureStr := fields[3]
	expirationStr := fields[4]
	name := fields[5]
	value := fields[6]

	if name == "" {
		return nil, fmt.Errorf("cookie name is empty")
	}

	var expires time.Time
	if expirationStr != "0" && expirationStr != "" {
		timestamp, err := strconv.ParseInt(expirationStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid expiration timestamp: %w", err)
		}
		expires = time.Unix(timestamp, 0)
	}

	return &http.Cookie{
		Name:     name,
		Value:    value,
		Domain:   domain,
		Path:     path,
		Expires:  expires,
		Secure:   strings.EqualFold(secureStr, "TRUE"),
		HttpOnly: true,
	}, nil
}

// ValidateSession checks that the cookie set carries a plausible ndus
// session cookie. Public shares often resolve without one.
func (a *CookieAuthManager) ValidateSession(cookies map[string]string) error {
	ndus, ok := cookies[sessionCookie]
	if !ok || ndus == "" {
		return internal.NewTeraboxError(0, "ndus session cookie is not set", internal.ErrAuthRequired).
			WithSuggestion("Provide a cookie file exported from a logged-in browser with --cookies")
	}

	if !isValidSessionValue(ndus) {
		return internal.NewTeraboxError(0, "ndus session cookie format is invalid", internal.ErrAuthRequired)
	}

	return nil
}

// isValidSessionValue validates the format of an ndus cookie value
func isValidSessionValue(value string) bool {
	if len(value) < 16 {
		return false
	}

	for _, char := range value {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '-' || char == '_' || char == '~') {
			return false
		}
	}

	return true
}

// MergeCookies overlays loaded cookies onto the static set
func MergeCookies(static, loaded map[string]string) map[string]string {
	merged := make(map[string]string, len(static)+len(loaded))
	for name, value := range static {
		merged[name] = value
	}
	for name, value := range loaded {
		merged[name] = value
	}
	return merged
}

// clearCookies securely clears all stored cookies from memory
func (a *CookieAuthManager) clearCookies() {
	for name, cookie := range a.cookieStore {
		if cookie != nil {
			cookie.Value = ""
		}
		delete(a.cookieStore, name)
	}
}

// Cleanup securely clears all sensitive data from memory
func (a *CookieAuthManager) Cleanup() {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.clearCookies()
}
