package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"teraresolve/internal"
)

func (s *Server) home(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, homeResponse{
		Status:           "API Running",
		Usage:            apiUsage,
		SupportedDomains: s.validator.Domains(),
		Note:             "Resolves TeraBox share links into direct download URLs",
	})
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// invalidator is implemented by resolvers that cache results
type invalidator interface {
	Invalidate(req internal.ResolutionRequest)
}

// resolve handles GET /api?url=...&proxy=...&refresh=...
func (s *Server) resolve(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	query := r.URL.Query()
	rawURL := strings.TrimSpace(query.Get("url"))
	proxyURL := strings.TrimSpace(query.Get("proxy"))

	if rawURL == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Status:  "error",
			Message: "URL parameter is required",
			Usage:   apiUsage,
		})
		return
	}

	if err := s.validator.ValidateURL(rawURL); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Status:           "error",
			Message:          "Invalid Terabox URL format",
			SupportedDomains: s.validator.Domains(),
			URL:              rawURL,
		})
		return
	}

	req := internal.ResolutionRequest{URL: rawURL, ProxyURL: proxyURL}
	if refresh, _ := strconv.ParseBool(query.Get("refresh")); refresh {
		if cache, ok := s.resolver.(invalidator); ok {
			cache.Invalidate(req)
		}
	}

	result, err := s.resolver.Resolve(r.Context(), req)
	if err != nil {
		internal.LogResolutionError(err)
		writeResolutionError(w, rawURL, err)
		return
	}

	if result.Empty() {
		writeJSON(w, http.StatusNotFound, errorResponse{
			Status:  "error",
			Message: "No files found or link is empty",
			URL:     rawURL,
		})
		return
	}

	writeJSON(w, http.StatusOK, successResponse{
		Status:         "success",
		URL:            rawURL,
		ShareID:        result.ShareID,
		Files:          result.Files,
		ProcessingTime: formatElapsed(time.Since(started)),
		FileCount:      len(result.Files),
	})
}

func formatElapsed(d time.Duration) string {
	return (&internal.ResolutionResult{Elapsed: d}).ProcessingTime()
}
