package resolver

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/bytedance/sonic"

	"teraresolve/internal"
	"teraresolve/utils"
)

// listingResponse is the envelope returned by the share listing endpoint
type listingResponse struct {
	Errno  internal.OptionalInt    `json:"errno"`
	Errmsg string                  `json:"errmsg"`
	List   []internal.ListingEntry `json:"list"`
}

// ListingClient queries the internal listing endpoint for a share
type ListingClient struct {
	endpoint     string
	startVersion int
}

// NewListingClient creates a listing client. startVersion is the first ver
// value tried; lower versions down to 1 are used as fallbacks.
func NewListingClient(endpoint string, startVersion int) *ListingClient {
	if endpoint == "" {
		endpoint = internal.DefaultListingEndpoint
	}
	if startVersion < 1 {
		startVersion = 1
	}
	return &ListingClient{endpoint: endpoint, startVersion: startVersion}
}

// List returns the share's entries. When the first top-level entry is a
// directory its non-directory children replace the top-level result; the
// recursion is exactly one level deep.
func (c *ListingClient) List(ctx context.Context, session *utils.Session, tokens internal.SessionTokens, surl, referer string) ([]internal.ListingEntry, error) {
	params := listingParams(tokens, surl, referer)

	entries, err := c.fetch(ctx, session, params, "No files found in shared link")
	if err != nil {
		return nil, err
	}
	internal.LogInfo("Found %d entries for %s", len(entries), surl)

	if !entries[0].IsDir {
		return entries, nil
	}

	folder := folderParams(params, entries[0].Path)
	children, err := c.fetch(ctx, session, folder, "No files found in directory")
	if err != nil {
		return nil, err
	}

	files := make([]internal.ListingEntry, 0, len(children))
	for _, child := range children {
		if !child.IsDir {
			files = append(files, child)
		}
	}
	internal.LogInfo("Found %d files in folder %s", len(files), entries[0].Path)
	return files, nil
}

func listingParams(tokens internal.SessionTokens, surl, referer string) url.Values {
	return url.Values{
		"app_id":       {"250528"},
		"web":          {"1"},
		"channel":      {"dubox"},
		"clienttype":   {"0"},
		"jsToken":      {tokens.JSToken},
		"dplogid":      {tokens.LogID},
		"page":         {"1"},
		"num":          {"20"},
		"order":        {"time"},
		"desc":         {"1"},
		"site_referer": {referer},
		"shorturl":     {surl},
		"root":         {"1"},
	}
}

func folderParams(params url.Values, dir string) url.Values {
	folder := cloneValues(params)
	folder.Set("dir", dir)
	folder.Set("order", "asc")
	folder.Set("by", "name")
	folder.Del("desc")
	folder.Del("root")
	return folder
}

// fetch calls the endpoint once per version, from startVersion down to 1,
// until a non-empty list comes back. Transport failures are not retried here.
func (c *ListingClient) fetch(ctx context.Context, session *utils.Session, params url.Values, emptyMessage string) ([]internal.ListingEntry, error) {
	var lastErr error

	for ver := c.startVersion; ver >= 1; ver-- {
		attempt := cloneValues(params)
		attempt.Set("ver", strconv.Itoa(ver))

		resp, err := session.Execute(ctx, &utils.Request{
			URL:             c.endpoint,
			Params:          attempt,
			FollowRedirects: true,
		})
		if err != nil {
			return nil, err
		}

		var body listingResponse
		if err := sonic.Unmarshal(resp.Body, &body); err != nil {
			lastErr = internal.NewTeraboxError(resp.StatusCode, "listing response is not valid JSON", internal.ErrInvalidResponse).
				WithCause(err).
				WithContext("ver", ver)
			internal.LogWarn("Listing ver=%d returned invalid JSON", ver)
			continue
		}

		if body.Errno.Valid && body.Errno.Value != 0 {
			lastErr = listingErrno(int(body.Errno.Value), body.Errmsg).WithContext("ver", ver)
			internal.LogWarn("Listing ver=%d failed: errno %d", ver, body.Errno.Value)
			continue
		}

		if len(body.List) == 0 {
			lastErr = internal.NewListingError(0, emptyMessage).WithContext("ver", ver)
			internal.LogDebug("Listing ver=%d returned no entries", ver)
			continue
		}

		return body.List, nil
	}

	return nil, lastErr
}

// errnoReasons maps upstream listing errno values to readable reasons
var errnoReasons = map[int]string{
	-1:     "invalid request parameters",
	-2:     "authentication required or invalid",
	-3:     "access denied",
	-4:     "file not found or share expired",
	-5:     "share link invalid or expired",
	-6:     "rate limit exceeded",
	-9:     "anti-bot verification required",
	-10:    "IP blocked or suspicious activity",
	2:      "parameter error",
	4:      "user not found",
	7:      "file or folder not found",
	9:      "file forbidden",
	10:     "share not found",
	11:     "share cancelled",
	12:     "share expired",
	13:     "share access denied",
	14:     "share password required",
	15:     "share password incorrect",
	16:     "share access limit exceeded",
	105:    "share link does not exist",
	110:    "access token invalid",
	111:    "access token expired",
	400141: "verification required for this share",
	31034:  "anti-crawler verification failed",
	31045:  "verification code required",
	31066:  "file sharing disabled",
}

func listingErrno(errno int, errmsg string) *internal.TeraboxError {
	reason, ok := errnoReasons[errno]
	if !ok {
		reason = errmsg
		if reason == "" {
			reason = fmt.Sprintf("unknown API error (code: %d)", errno)
		}
	}

	err := internal.NewListingError(errno, fmt.Sprintf("listing failed: %s", reason))
	switch errno {
	case -2, -3, 110, 111, 14, 15:
		err.WithSuggestion("The share may need fresh session cookies (--cookies) or a password")
	case -6, -9, -10, 16, 31034, 31045, 400141:
		err.WithSuggestion("Upstream is throttling or challenging requests. Try again later or use a proxy")
	}
	return err
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for key, values := range v {
		out[key] = append([]string(nil), values...)
	}
	return out
}
