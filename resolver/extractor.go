package resolver

import (
	"regexp"

	"teraresolve/internal"
)

// Candidate patterns, tried in order. The first non-empty capture wins.
var (
	defaultJSTokenPatterns = []*regexp.Regexp{
		regexp.MustCompile(`fn\(["'](.*?)["']\)`),
		regexp.MustCompile(`fn%28%22(.*?)%22%29`),
	}

	defaultLogIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`dp-logid=([^&'"\s]+)`),
		regexp.MustCompile(`dplogid=([^&'"\s]+)`),
	}
)

// TokenExtractor locates the session tokens embedded in a share page
type TokenExtractor struct {
	jsTokenPatterns []*regexp.Regexp
	logIDPatterns   []*regexp.Regexp
}

// NewTokenExtractor creates an extractor with the built-in pattern tables
func NewTokenExtractor() *TokenExtractor {
	return &TokenExtractor{
		jsTokenPatterns: append([]*regexp.Regexp(nil), defaultJSTokenPatterns...),
		logIDPatterns:   append([]*regexp.Regexp(nil), defaultLogIDPatterns...),
	}
}

// AddJSTokenPattern appends a lowest-priority jsToken candidate. The first
// capture group is the token.
func (e *TokenExtractor) AddJSTokenPattern(re *regexp.Regexp) {
	e.jsTokenPatterns = append(e.jsTokenPatterns, re)
}

// AddLogIDPattern appends a lowest-priority log id candidate
func (e *TokenExtractor) AddLogIDPattern(re *regexp.Regexp) {
	e.logIDPatterns = append(e.logIDPatterns, re)
}

// Extract returns both tokens or an error naming the one that is missing
func (e *TokenExtractor) Extract(html string) (internal.SessionTokens, error) {
	jsToken := firstMatch(e.jsTokenPatterns, html)
	if jsToken == "" {
		internal.LogDebug("jsToken not found after %d patterns", len(e.jsTokenPatterns))
		return internal.SessionTokens{}, internal.NewExtractionError(internal.ErrTokenMissing, len(e.jsTokenPatterns))
	}

	logID := firstMatch(e.logIDPatterns, html)
	if logID == "" {
		internal.LogDebug("log id not found after %d patterns", len(e.logIDPatterns))
		return internal.SessionTokens{}, internal.NewExtractionError(internal.ErrLogIDMissing, len(e.logIDPatterns))
	}

	return internal.SessionTokens{JSToken: jsToken, LogID: logID}, nil
}

func firstMatch(patterns []*regexp.Regexp, content string) string {
	for _, pattern := range patterns {
		if m := pattern.FindStringSubmatch(content); len(m) > 1 && m[1] != "" {
			return m[1]
		}
	}
	return ""
}
