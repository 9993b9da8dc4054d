package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teraresolve/internal"
)

type listingServer struct {
	mu       sync.Mutex
	requests []url.Values
	respond  func(q url.Values) (int, string)
}

func (s *listingServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.mu.Lock()
	s.requests = append(s.requests, q)
	s.mu.Unlock()

	status, body := s.respond(q)
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

func (s *listingServer) seen() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.requests...)
}

var testTokens = internal.SessionTokens{JSToken: "TOK123", LogID: "LOG456"}

const shareReferer = "https://terabox.com/s/1AbCdEfGh"

func TestListingClient_Params(t *testing.T) {
	server := &listingServer{respond: func(url.Values) (int, string) {
		return http.StatusOK, `{"errno":0,"list":[{"path":"/a.txt","server_filename":"a.txt","isdir":"0","dlink":"https://d/a"}]}`
	}}
	session := newTestSession(t, server)

	entries, err := NewListingClient("", 2).List(context.Background(), session, testTokens, "AbCdEfGh", shareReferer)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	q := server.seen()[0]
	want := map[string]string{
		"app_id":       "250528",
		"web":          "1",
		"channel":      "dubox",
		"clienttype":   "0",
		"jsToken":      "TOK123",
		"dplogid":      "LOG456",
		"page":         "1",
		"num":          "20",
		"order":        "time",
		"desc":         "1",
		"site_referer": shareReferer,
		"shorturl":     "AbCdEfGh",
		"root":         "1",
		"ver":          "2",
	}
	for key, value := range want {
		assert.Equal(t, value, q.Get(key), key)
	}
	assert.Empty(t, q.Get("dir"))
}

func TestListingClient_DirectoryRecursion(t *testing.T) {
	server := &listingServer{respond: func(q url.Values) (int, string) {
		if q.Get("dir") == "" {
			return http.StatusOK, `{"errno":0,"list":[{"path":"/Folder","server_filename":"Folder","isdir":"1"}]}`
		}
		return http.StatusOK, `{"errno":0,"list":[
			{"path":"/Folder/b.txt","server_filename":"b.txt","isdir":"0","dlink":"https://d/b"},
			{"path":"/Folder/Sub","server_filename":"Sub","isdir":"1"},
			{"path":"/Folder/a.txt","server_filename":"a.txt","isdir":0,"dlink":"https://d/a"}
		]}`
	}}
	session := newTestSession(t, server)

	entries, err := NewListingClient("", 2).List(context.Background(), session, testTokens, "AbCdEfGh", shareReferer)
	require.NoError(t, err)

	requests := server.seen()
	require.Len(t, requests, 2, "exactly one follow-up call")

	folder := requests[1]
	assert.Equal(t, "/Folder", folder.Get("dir"))
	assert.Equal(t, "asc", folder.Get("order"))
	assert.Equal(t, "name", folder.Get("by"))
	assert.False(t, folder.Has("desc"))
	assert.False(t, folder.Has("root"))
	assert.Equal(t, "TOK123", folder.Get("jsToken"))

	require.Len(t, entries, 2)
	assert.Equal(t, "b.txt", entries[0].ServerFilename)
	assert.Equal(t, "a.txt", entries[1].ServerFilename)
	for _, entry := range entries {
		assert.False(t, bool(entry.IsDir))
	}
}

func TestListingClient_DirectoryOnlyFirstEntryChecked(t *testing.T) {
	server := &listingServer{respond: func(url.Values) (int, string) {
		return http.StatusOK, `{"errno":0,"list":[
			{"path":"/a.txt","server_filename":"a.txt","isdir":"0","dlink":"https://d/a"},
			{"path":"/Folder","server_filename":"Folder","isdir":"1"}
		]}`
	}}
	session := newTestSession(t, server)

	entries, err := NewListingClient("", 1).List(context.Background(), session, testTokens, "x", shareReferer)
	require.NoError(t, err)
	assert.Len(t, server.seen(), 1)
	assert.Len(t, entries, 2)
}

func TestListingClient_EmptyDirectory(t *testing.T) {
	server := &listingServer{respond: func(q url.Values) (int, string) {
		if q.Get("dir") == "" {
			return http.StatusOK, `{"errno":0,"list":[{"path":"/Folder","isdir":"1"}]}`
		}
		return http.StatusOK, `{"errno":0,"list":[{"path":"/Folder/Sub","isdir":"1"}]}`
	}}
	session := newTestSession(t, server)

	entries, err := NewListingClient("", 1).List(context.Background(), session, testTokens, "x", shareReferer)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestListingClient_VersionFallback(t *testing.T) {
	server := &listingServer{respond: func(q url.Values) (int, string) {
		switch q.Get("ver") {
		case "3":
			return http.StatusOK, `{"errno":0,"list":[]}`
		case "2":
			return http.StatusOK, `{"errno":-9,"errmsg":"need verify"}`
		default:
			return http.StatusOK, `{"errno":0,"list":[{"path":"/a","server_filename":"a","isdir":"0","dlink":"https://d/a"}]}`
		}
	}}
	session := newTestSession(t, server)

	entries, err := NewListingClient("", 3).List(context.Background(), session, testTokens, "x", shareReferer)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	requests := server.seen()
	require.Len(t, requests, 3)
	assert.Equal(t, "3", requests[0].Get("ver"))
	assert.Equal(t, "2", requests[1].Get("ver"))
	assert.Equal(t, "1", requests[2].Get("ver"))
}

func TestListingClient_Failures(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantType internal.ErrorType
		wantMsg  string
	}{
		{name: "empty list", body: `{"errno":0,"list":[]}`, wantType: internal.ErrListingEmpty, wantMsg: "No files found in shared link"},
		{name: "missing list", body: `{"errno":0}`, wantType: internal.ErrListingEmpty, wantMsg: "No files found in shared link"},
		{name: "mapped errno", body: `{"errno":105}`, wantType: internal.ErrListingEmpty, wantMsg: "share link does not exist"},
		{name: "unmapped errno", body: `{"errno":777,"errmsg":"odd"}`, wantType: internal.ErrListingEmpty, wantMsg: "odd"},
		{name: "invalid json", body: `<html>blocked</html>`, wantType: internal.ErrInvalidResponse, wantMsg: "not valid JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := &listingServer{respond: func(url.Values) (int, string) { return http.StatusOK, tt.body }}
			session := newTestSession(t, server)

			_, err := NewListingClient("", 2).List(context.Background(), session, testTokens, "x", shareReferer)
			require.Error(t, err)

			var teraboxErr *internal.TeraboxError
			require.True(t, errors.As(err, &teraboxErr))
			assert.Equal(t, tt.wantType, teraboxErr.Type)
			assert.Contains(t, teraboxErr.Message, tt.wantMsg)
			assert.Equal(t, internal.StageListing, internal.StageOf(err))
			assert.Len(t, server.seen(), 2, "every version is tried")
		})
	}
}

func TestListingClient_TransportErrorIsNotRetriedAcrossVersions(t *testing.T) {
	server := &listingServer{respond: func(url.Values) (int, string) { return http.StatusNotFound, "" }}
	session := newTestSession(t, server)

	_, err := NewListingClient("", 2).List(context.Background(), session, testTokens, "x", shareReferer)
	require.Error(t, err)
	assert.Equal(t, internal.StageTransport, internal.StageOf(err))
	assert.Len(t, server.seen(), 1)
}
