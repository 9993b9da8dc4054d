package server

import (
	"errors"
	"net/http"

	"github.com/bytedance/sonic"

	"teraresolve/internal"
)

const apiUsage = "/api?url=TERABOX_SHARE_URL"

type homeResponse struct {
	Status           string   `json:"status"`
	Usage            string   `json:"usage"`
	SupportedDomains []string `json:"supported_domains"`
	Note             string   `json:"note"`
}

type successResponse struct {
	Status         string                  `json:"status"`
	URL            string                  `json:"url"`
	ShareID        string                  `json:"share_id"`
	Files          []internal.ResolvedFile `json:"files"`
	ProcessingTime string                  `json:"processing_time"`
	FileCount      int                     `json:"file_count"`
}

type errorResponse struct {
	Status           string   `json:"status"`
	Message          string   `json:"message"`
	Usage            string   `json:"usage,omitempty"`
	SupportedDomains []string `json:"supported_domains,omitempty"`
	Stage            string   `json:"stage,omitempty"`
	Suggestion       string   `json:"suggestion,omitempty"`
	Solution         string   `json:"solution,omitempty"`
	URL              string   `json:"url,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	payload, err := sonic.Marshal(body)
	if err != nil {
		internal.LogError("Failed to encode response: %v", err)
		http.Error(w, `{"status":"error","message":"Unexpected server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

// writeResolutionError maps a resolver error onto the API error shape:
// validation failures are the caller's fault, everything else is a 500
// naming the failing stage.
func writeResolutionError(w http.ResponseWriter, rawURL string, err error) {
	var validationErr *internal.ValidationError
	if errors.As(err, &validationErr) {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Status:     "error",
			Message:    validationErr.Message,
			Suggestion: validationErr.Suggestion,
			URL:        rawURL,
		})
		return
	}

	message := err.Error()
	suggestion := ""
	var teraboxErr *internal.TeraboxError
	if errors.As(err, &teraboxErr) {
		message = teraboxErr.Message
		suggestion = teraboxErr.Suggestion
	}

	writeJSON(w, http.StatusInternalServerError, errorResponse{
		Status:     "error",
		Message:    "Service error: " + message,
		Stage:      string(internal.StageOf(err)),
		Suggestion: suggestion,
		Solution:   "Try again later or contact support",
		URL:        rawURL,
	})
}
