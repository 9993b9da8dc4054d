package utils

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"teraresolve/internal"
)

// URLValidator accepts share links on the supported hosts before any network
// call is made.
type URLValidator struct {
	allowedDomains []string
	urlPatterns    []*regexp.Regexp
}

// NewURLValidator creates a validator for the given hosts. Each host is also
// accepted with a www. prefix.
func NewURLValidator(domains []string) *URLValidator {
	if len(domains) == 0 {
		domains = internal.SupportedDomains
	}

	quoted := make([]string, 0, len(domains))
	for _, d := range domains {
		quoted = append(quoted, regexp.QuoteMeta(strings.TrimPrefix(strings.ToLower(d), "www.")))
	}
	hosts := `(?:www\.)?(?:` + strings.Join(quoted, "|") + `)`

	patterns := []*regexp.Regexp{
		// https://terabox.com/s/1AbC123 and https://terabox.com/sharing/link/AbC123
		regexp.MustCompile(`^https://` + hosts + `/(?:s|sharing/link)/[A-Za-z0-9_\-]+`),
		// https://terabox.com/sharing/link?surl=AbC123
		regexp.MustCompile(`^https://` + hosts + `/sharing/link\?(?:.*&)?surl=[A-Za-z0-9_\-]+`),
	}

	return &URLValidator{
		allowedDomains: domains,
		urlPatterns:    patterns,
	}
}

// Domains returns the accepted hosts
func (v *URLValidator) Domains() []string {
	return v.allowedDomains
}

// ValidateURL checks the share-link shape and host
func (v *URLValidator) ValidateURL(rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return internal.NewValidationError("url", "URL parameter is required").
			WithSuggestion("Use /api?url=TERABOX_SHARE_URL")
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return internal.NewInvalidURLError(rawURL, fmt.Sprintf("invalid URL format: %v", err))
	}
	if parsedURL.Scheme != "https" {
		return internal.NewInvalidURLError(rawURL, "URL must use the https protocol")
	}

	// Scheme and host are matched case-insensitively; paths are not.
	normalized := "https://" + strings.ToLower(parsedURL.Host) + parsedURL.EscapedPath()
	if parsedURL.RawQuery != "" {
		normalized += "?" + parsedURL.RawQuery
	}
	for _, pattern := range v.urlPatterns {
		if pattern.MatchString(normalized) {
			return nil
		}
	}

	return internal.NewInvalidURLError(rawURL, "Invalid Terabox URL format").
		WithContext("host", parsedURL.Hostname())
}

var (
	pathSharePattern  = regexp.MustCompile(`/(?:s|sharing/link)/([A-Za-z0-9_\-]+)`)
	querySharePattern = regexp.MustCompile(`surl=([A-Za-z0-9_\-]+)`)
)

// DeriveShareID extracts the surl, trying the final URL after redirects first
// and the original URL second.
func DeriveShareID(originalURL, finalURL string) (string, error) {
	for _, candidate := range []string{finalURL, originalURL} {
		if candidate == "" {
			continue
		}
		if surl := shareIDFrom(candidate); surl != "" {
			return surl, nil
		}
	}
	return "", internal.NewShareIDError(finalURL, originalURL)
}

func shareIDFrom(rawURL string) string {
	if parsedURL, err := url.Parse(rawURL); err == nil {
		if surl := parsedURL.Query().Get("surl"); surl != "" {
			return surl
		}

		parts := strings.Split(strings.Trim(parsedURL.Path, "/"), "/")
		for i, part := range parts {
			if part == "s" && i+1 < len(parts) && parts[i+1] != "" {
				return parts[i+1]
			}
			if part == "sharing" && i+2 < len(parts) && parts[i+1] == "link" && parts[i+2] != "" {
				return parts[i+2]
			}
		}
	}

	if m := querySharePattern.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	if m := pathSharePattern.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	return ""
}

// CanonicalShareURL rewrites a share identifier onto the primary host
func CanonicalShareURL(surl string) string {
	return fmt.Sprintf("https://terabox.com/s/%s", surl)
}
