package resolver

import (
	"context"
	"net/http"
	"time"

	"teraresolve/internal"
	"teraresolve/utils"
)

// Observer receives progress notifications while direct links are resolved.
// Both methods run on the goroutine that called Resolve.
type Observer interface {
	LinksListed(total int)
	LinkResolved(result DirectResult)
}

// TeraboxResolver implements the ShareResolver interface
type TeraboxResolver struct {
	httpClient   *utils.HTTPClient
	urlValidator *utils.URLValidator
	extractor    *TokenExtractor
	listing      *ListingClient
	direct       *DirectLinkResolver
	workers      int
	defaultProxy string
}

// NewTeraboxResolver creates a resolver from cfg, loading the optional cookie
// file into the static cookie set.
func NewTeraboxResolver(cfg *internal.Config) (*TeraboxResolver, error) {
	httpClient, err := NewHTTPClientFromConfig(cfg, NewCookieAuthManager(), nil)
	if err != nil {
		return nil, err
	}
	return NewTeraboxResolverWithClient(cfg, httpClient), nil
}

// NewTeraboxResolverWithClient creates a resolver with a custom HTTP client
func NewTeraboxResolverWithClient(cfg *internal.Config, httpClient *utils.HTTPClient) *TeraboxResolver {
	directRetry := retryPolicy(cfg)
	directRetry.MaxAttempts = cfg.DirectRetries

	return &TeraboxResolver{
		httpClient:   httpClient,
		urlValidator: utils.NewURLValidator(cfg.AllowedDomains),
		extractor:    NewTokenExtractor(),
		listing:      NewListingClient(cfg.ListingEndpoint, cfg.ListingVersion),
		direct:       NewDirectLinkResolver(cfg.RedirectDepth, directRetry),
		workers:      cfg.Workers,
		defaultProxy: cfg.ProxyURL,
	}
}

// NewHTTPClientFromConfig builds the upstream client shared by every
// resolution. transport may be nil to use the pooled per-proxy transports.
func NewHTTPClientFromConfig(cfg *internal.Config, auth internal.AuthManager, transport http.RoundTripper) (*utils.HTTPClient, error) {
	cookies := cfg.Cookies
	if cfg.CookieFile != "" {
		loaded, err := auth.LoadCookies(cfg.CookieFile)
		if err != nil {
			return nil, err
		}
		cookies = MergeCookies(cfg.Cookies, loaded)
		if err := auth.ValidateSession(cookies); err != nil {
			internal.LogWarn("Cookie file %s: %v", cfg.CookieFile, err)
		}
	}

	return utils.NewHTTPClientWithConfig(&utils.HTTPClientConfig{
		Timeout:           cfg.Timeout,
		RetryConfig:       retryPolicy(cfg),
		Headers:           cfg.Headers,
		Cookies:           cookies,
		RequestsPerSecond: cfg.UpstreamRPS,
		Transport:         transport,
	}), nil
}

func retryPolicy(cfg *internal.Config) *utils.RetryConfig {
	return &utils.RetryConfig{
		MaxAttempts: cfg.MaxRetries,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		Multiplier:  2.0,
	}
}

// Validator returns the URL validator used before any network call
func (r *TeraboxResolver) Validator() *utils.URLValidator {
	return r.urlValidator
}

// Resolve runs the full pipeline for one share link
func (r *TeraboxResolver) Resolve(ctx context.Context, req internal.ResolutionRequest) (*internal.ResolutionResult, error) {
	return r.ResolveWithObserver(ctx, req, nil)
}

// ResolveWithObserver is Resolve with progress notifications. obs may be nil.
func (r *TeraboxResolver) ResolveWithObserver(ctx context.Context, req internal.ResolutionRequest, obs Observer) (*internal.ResolutionResult, error) {
	started := time.Now()

	result, err := r.resolve(ctx, req, obs)

	internal.ResolutionDuration.Observe(time.Since(started).Seconds())
	switch {
	case err != nil:
		internal.Resolutions.WithLabelValues(string(internal.StageOf(err))).Inc()
		return nil, err
	case result.Empty():
		internal.Resolutions.WithLabelValues("empty").Inc()
	default:
		internal.Resolutions.WithLabelValues("success").Inc()
	}

	result.StartedAt = started
	result.Elapsed = time.Since(started)
	internal.LogInfo("Resolved %d files from %s in %s", len(result.Files), result.ShareID, result.ProcessingTime())
	return result, nil
}

func (r *TeraboxResolver) resolve(ctx context.Context, req internal.ResolutionRequest, obs Observer) (*internal.ResolutionResult, error) {
	if err := r.urlValidator.ValidateURL(req.URL); err != nil {
		return nil, err
	}

	proxyURL := req.ProxyURL
	if proxyURL == "" {
		proxyURL = r.defaultProxy
	}
	session, err := r.httpClient.NewSession(proxyURL)
	if err != nil {
		return nil, err
	}

	internal.LogInfo("Resolving %s", req.URL)
	page, err := session.Execute(ctx, &utils.Request{
		URL:             req.URL,
		FollowRedirects: true,
	})
	if err != nil {
		return nil, err
	}

	tokens, err := r.extractor.Extract(string(page.Body))
	if err != nil {
		return nil, err
	}
	internal.LogDebug("Extracted session tokens from %s", page.URL)

	surl, err := utils.DeriveShareID(req.URL, page.URL)
	if err != nil {
		return nil, err
	}

	entries, err := r.listing.List(ctx, session, tokens, surl, page.URL)
	if err != nil {
		return nil, err
	}

	links := make([]string, len(entries))
	pending := 0
	for i, entry := range entries {
		links[i] = entry.DLink
		if entry.DLink != "" {
			pending++
		}
	}

	var onResolved func(DirectResult)
	if obs != nil {
		obs.LinksListed(pending)
		onResolved = obs.LinkResolved
	}

	resolved := ResolveAll(ctx, r.workers, links, func(ctx context.Context, link string) DirectResult {
		return r.direct.Resolve(ctx, session, link)
	}, onResolved)
	if ctx.Err() != nil {
		return nil, internal.NewTransportError(req.URL, 0, "resolution cancelled").WithCause(ctx.Err())
	}

	direct := make([]string, len(resolved))
	for i, res := range resolved {
		direct[i] = res.URL
	}

	return &internal.ResolutionResult{
		URL:     req.URL,
		ShareID: surl,
		Files:   Assemble(entries, direct),
	}, nil
}

var _ internal.ShareResolver = (*TeraboxResolver)(nil)
var _ internal.ShareResolver = (*CachedResolver)(nil)
var _ internal.AuthManager = (*CookieAuthManager)(nil)
