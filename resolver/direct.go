package resolver

import (
	"context"
	"net/http"

	"teraresolve/internal"
	"teraresolve/utils"
)

// DirectResult is the outcome of unwrapping one download link
type DirectResult struct {
	URL      string
	Hops     int
	Fallback bool // a hop failed and the original link was kept
}

// DirectLinkResolver follows a file's redirecting download link to its final
// location without downloading it.
type DirectLinkResolver struct {
	maxDepth int
	retry    *utils.RetryConfig
}

// NewDirectLinkResolver creates a resolver following at most maxDepth
// redirects. retry applies to each HEAD/GET probe.
func NewDirectLinkResolver(maxDepth int, retry *utils.RetryConfig) *DirectLinkResolver {
	if maxDepth < 1 {
		maxDepth = 1
	}
	if retry == nil {
		retry = &utils.RetryConfig{MaxAttempts: 1}
	}
	return &DirectLinkResolver{maxDepth: maxDepth, retry: retry}
}

// ResolveDirect returns the final URL of link. It never fails: any error
// yields link unchanged.
func (d *DirectLinkResolver) ResolveDirect(ctx context.Context, session *utils.Session, link string) string {
	return d.Resolve(ctx, session, link).URL
}

// Resolve is ResolveDirect with hop and fallback details
func (d *DirectLinkResolver) Resolve(ctx context.Context, session *utils.Session, link string) DirectResult {
	result := DirectResult{URL: link}

	for depth := 0; depth < d.maxDepth; depth++ {
		next, err := d.hop(ctx, session, result.URL)
		if err != nil {
			internal.DirectLinkFallbacks.Inc()
			internal.LogDebug("Direct link resolution failed at depth %d: %v", depth, err)
			return DirectResult{URL: link, Hops: result.Hops, Fallback: true}
		}
		if next == "" || next == result.URL {
			return result
		}
		result.URL = next
		result.Hops++
	}

	internal.LogDebug("Direct link resolution reached depth limit %d", d.maxDepth)
	return result
}

// hop probes current once with a redirect-suppressed HEAD, then a GET whose
// body is never read. It returns the resolved Location, or "" when the link
// does not redirect.
func (d *DirectLinkResolver) hop(ctx context.Context, session *utils.Session, current string) (string, error) {
	resp, headErr := session.Execute(ctx, &utils.Request{
		Method:   http.MethodHead,
		URL:      current,
		SkipBody: true,
		Retry:    d.retry,
	})
	if headErr == nil && resp.IsRedirect() {
		return resp.Location(), nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	resp, err := session.Execute(ctx, &utils.Request{
		Method:   http.MethodGet,
		URL:      current,
		SkipBody: true,
		Retry:    d.retry,
	})
	if err != nil {
		if headErr != nil {
			return "", internal.NewTeraboxError(0, "direct link probe failed", internal.ErrRedirectFailed).
				WithCause(err).
				WithContext("head_error", headErr.Error())
		}
		// HEAD answered without redirecting; the link is already direct.
		return "", nil
	}
	if resp.IsRedirect() {
		return resp.Location(), nil
	}
	return "", nil
}
