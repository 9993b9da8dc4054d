package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teraresolve/internal"
	"teraresolve/utils"
)

// rewriteTransport sends every request to target while keeping the original
// URL on the response, so share hosts resolve against a local server.
type rewriteTransport struct {
	target *url.URL
	base   http.RoundTripper
}

func (rt *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = rt.target.Scheme
	out.URL.Host = rt.target.Host
	out.Host = req.URL.Host

	resp, err := rt.base.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	resp.Request = req
	return resp, nil
}

func testConfig() *internal.Config {
	cfg := internal.DefaultConfig()
	cfg.Timeout = 2 * time.Second
	cfg.MaxRetries = 2
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 5 * time.Millisecond
	return cfg
}

// newTestSession returns a session whose requests all land on handler
func newTestSession(t *testing.T, handler http.Handler) *utils.Session {
	t.Helper()
	client := newTestClient(t, testConfig(), handler)
	session, err := client.NewSession("")
	require.NoError(t, err)
	return session
}

func newTestClient(t *testing.T, cfg *internal.Config, handler http.Handler) *utils.HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	target, err := url.Parse(server.URL)
	require.NoError(t, err)

	client, err := NewHTTPClientFromConfig(cfg, NewCookieAuthManager(), &rewriteTransport{
		target: target,
		base:   http.DefaultTransport,
	})
	require.NoError(t, err)
	return client
}

const sharePage = `<html><head><script>
window.jsToken = fn("TOK123");
var reportUrl = "https://www.terabox.com/api/report?dp-logid=LOG456&clienttype=0";
</script></head><body>share</body></html>`

// fakeTerabox serves a share page, a listing and one redirect per file
type fakeTerabox struct {
	mu           sync.Mutex
	listingCalls []url.Values
	headCalls    atomic.Int32
	listingBody  func(q url.Values) string
}

func (f *fakeTerabox) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/s/1AbCdEfGh", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "csrfToken", Value: "csrf-from-page", Path: "/"})
		fmt.Fprint(w, sharePage)
	})
	mux.HandleFunc("/share/list", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.listingCalls = append(f.listingCalls, r.URL.Query())
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, f.listingBody(r.URL.Query()))
	})
	mux.HandleFunc("/file/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			f.headCalls.Add(1)
		}
		http.Redirect(w, r, "https://d.terabox.com/cdn"+r.URL.Path[len("/file"):], http.StatusFound)
	})
	mux.HandleFunc("/cdn/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (f *fakeTerabox) calls() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]url.Values(nil), f.listingCalls...)
}

const twoFileListing = `{"errno":0,"list":[
{"path":"/small.txt","server_filename":"small.txt","isdir":"0","size":512,"dlink":"https://d.terabox.com/file/small.txt","server_mtime":1700000000,"thumbs":{"url3":"https://thumb.terabox.com/x?size=c360_u270"}},
{"path":"/big.bin","server_filename":"big.bin","isdir":0,"size":"1073741824","dlink":"https://d.terabox.com/file/big.bin","server_mtime":1700000001}
]}`

func TestTeraboxResolver_EndToEnd(t *testing.T) {
	fake := &fakeTerabox{listingBody: func(url.Values) string { return twoFileListing }}
	cfg := testConfig()
	r := NewTeraboxResolverWithClient(cfg, newTestClient(t, cfg, fake.handler()))

	result, err := r.Resolve(context.Background(), internal.ResolutionRequest{URL: "https://terabox.com/s/1AbCdEfGh"})
	require.NoError(t, err)

	assert.Equal(t, "1AbCdEfGh", result.ShareID)
	require.Len(t, result.Files, 2)

	small, big := result.Files[0], result.Files[1]
	assert.Equal(t, "small.txt", small.FileName)
	assert.Equal(t, "512 bytes", small.Size)
	assert.Equal(t, "big.bin", big.FileName)
	assert.Equal(t, "1.00 GB", big.Size)
	require.NotNil(t, big.SizeBytes)
	assert.Equal(t, int64(1073741824), *big.SizeBytes)

	assert.Equal(t, "https://d.terabox.com/file/small.txt", small.DownloadURL)
	assert.Equal(t, "https://d.terabox.com/cdn/small.txt", small.DirectDownloadURL)
	assert.Equal(t, "https://d.terabox.com/cdn/big.bin", big.DirectDownloadURL)
	assert.Equal(t, "https://thumb.terabox.com/x?size=c360_u270", small.Thumbnails["url3"])
	assert.False(t, small.IsDirectory)
	assert.Equal(t, int32(2), fake.headCalls.Load())

	calls := fake.calls()
	require.Len(t, calls, 1)
	q := calls[0]
	assert.Equal(t, "TOK123", q.Get("jsToken"))
	assert.Equal(t, "LOG456", q.Get("dplogid"))
	assert.Equal(t, "1AbCdEfGh", q.Get("shorturl"))
	assert.Equal(t, "https://terabox.com/s/1AbCdEfGh", q.Get("site_referer"))
	assert.Equal(t, "2", q.Get("ver"))
	assert.NotZero(t, result.Elapsed)
	assert.False(t, result.StartedAt.IsZero())
}

func TestTeraboxResolver_Deterministic(t *testing.T) {
	fake := &fakeTerabox{listingBody: func(url.Values) string { return twoFileListing }}
	cfg := testConfig()
	r := NewTeraboxResolverWithClient(cfg, newTestClient(t, cfg, fake.handler()))
	req := internal.ResolutionRequest{URL: "https://terabox.com/s/1AbCdEfGh"}

	first, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Files, second.Files)
}

func TestTeraboxResolver_InvalidURLMakesNoRequest(t *testing.T) {
	var hits atomic.Int32
	cfg := testConfig()
	client := newTestClient(t, cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	r := NewTeraboxResolverWithClient(cfg, client)

	for _, raw := range []string{"", "https://example.com/s/abc", "http://terabox.com/s/abc", "terabox.com/s/abc"} {
		_, err := r.Resolve(context.Background(), internal.ResolutionRequest{URL: raw})
		var validationErr *internal.ValidationError
		assert.ErrorAs(t, err, &validationErr, raw)
		assert.Equal(t, internal.StageValidation, internal.StageOf(err))
	}
	assert.Zero(t, hits.Load())
}

func TestTeraboxResolver_ExtractionFailure(t *testing.T) {
	cfg := testConfig()
	client := newTestClient(t, cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html>window.jsToken = fn("TOK123");</html>`)
	}))
	r := NewTeraboxResolverWithClient(cfg, client)

	_, err := r.Resolve(context.Background(), internal.ResolutionRequest{URL: "https://terabox.com/s/1AbCdEfGh"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, internal.ErrLogIDNotFound))
	assert.Equal(t, internal.StageExtraction, internal.StageOf(err))
}

func TestTeraboxResolver_TransportFailure(t *testing.T) {
	cfg := testConfig()
	client := newTestClient(t, cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	r := NewTeraboxResolverWithClient(cfg, client)

	_, err := r.Resolve(context.Background(), internal.ResolutionRequest{URL: "https://terabox.com/s/1AbCdEfGh"})
	require.Error(t, err)
	assert.Equal(t, internal.StageTransport, internal.StageOf(err))
}

func TestTeraboxResolver_EntriesWithoutLinksYieldEmptyResult(t *testing.T) {
	fake := &fakeTerabox{listingBody: func(url.Values) string {
		return `{"errno":0,"list":[{"path":"/a","server_filename":"a","isdir":"0","size":1}]}`
	}}
	cfg := testConfig()
	r := NewTeraboxResolverWithClient(cfg, newTestClient(t, cfg, fake.handler()))

	result, err := r.Resolve(context.Background(), internal.ResolutionRequest{URL: "https://terabox.com/s/1AbCdEfGh"})
	require.NoError(t, err)
	assert.True(t, result.Empty())
	assert.NotNil(t, result.Files)
}

type recordingObserver struct {
	total    int
	resolved int
}

func (o *recordingObserver) LinksListed(total int)     { o.total = total }
func (o *recordingObserver) LinkResolved(DirectResult) { o.resolved++ }

func TestTeraboxResolver_Observer(t *testing.T) {
	fake := &fakeTerabox{listingBody: func(url.Values) string { return twoFileListing }}
	cfg := testConfig()
	r := NewTeraboxResolverWithClient(cfg, newTestClient(t, cfg, fake.handler()))

	obs := &recordingObserver{}
	_, err := r.ResolveWithObserver(context.Background(), internal.ResolutionRequest{URL: "https://terabox.com/s/1AbCdEfGh"}, obs)
	require.NoError(t, err)
	assert.Equal(t, 2, obs.total)
	assert.Equal(t, 2, obs.resolved)
}

func TestCachedResolver(t *testing.T) {
	fake := &fakeTerabox{listingBody: func(url.Values) string { return twoFileListing }}
	cfg := testConfig()
	cached := NewCachedResolver(NewTeraboxResolverWithClient(cfg, newTestClient(t, cfg, fake.handler())), time.Minute)
	req := internal.ResolutionRequest{URL: "https://terabox.com/s/1AbCdEfGh"}

	first, err := cached.Resolve(context.Background(), req)
	require.NoError(t, err)
	second, err := cached.Resolve(context.Background(), req)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Len(t, fake.calls(), 1)

	cached.Invalidate(req)
	_, err = cached.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, fake.calls(), 2)
}

func TestCachedResolver_DoesNotCacheFailures(t *testing.T) {
	var hits atomic.Int32
	cfg := testConfig()
	client := newTestClient(t, cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	cached := NewCachedResolver(NewTeraboxResolverWithClient(cfg, client), time.Minute)
	req := internal.ResolutionRequest{URL: "https://terabox.com/s/1AbCdEfGh"}

	_, err := cached.Resolve(context.Background(), req)
	require.Error(t, err)
	_, err = cached.Resolve(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, int32(2), hits.Load())
}
