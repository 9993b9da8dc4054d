package internal

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
)

// ResolutionRequest is a validated share URL plus the optional outbound proxy
type ResolutionRequest struct {
	URL      string `json:"url"`
	ProxyURL string `json:"proxy,omitempty"`
}

// SessionTokens are the anti-bot values scraped from the share page
type SessionTokens struct {
	JSToken string `json:"js_token"`
	LogID   string `json:"log_id"`
}

// ListingEntry is one file or folder as returned by the listing endpoint
type ListingEntry struct {
	Path           string      `json:"path"`
	ServerFilename string      `json:"server_filename"`
	IsDir          DirFlag     `json:"isdir"`
	Size           OptionalInt `json:"size"`
	DLink          string      `json:"dlink"`
	ServerMtime    OptionalInt `json:"server_mtime"`
	Thumbs         Thumbnails  `json:"thumbs"`
}

// ResolvedFile is the output record for one downloadable entry
type ResolvedFile struct {
	FileName          string            `json:"file_name"`
	Size              string            `json:"size"`
	SizeBytes         *int64            `json:"size_bytes"`
	DownloadURL       string            `json:"download_url"`
	DirectDownloadURL string            `json:"direct_download_url"`
	IsDirectory       bool              `json:"is_directory"`
	ModifyTime        *int64            `json:"modify_time"`
	Thumbnails        map[string]string `json:"thumbnails"`
}

// ResolutionResult is the ordered outcome of one resolution
type ResolutionResult struct {
	URL       string         `json:"url"`
	ShareID   string         `json:"share_id"`
	Files     []ResolvedFile `json:"files"`
	StartedAt time.Time      `json:"started_at"`
	Elapsed   time.Duration  `json:"-"`
}

// ProcessingTime renders the elapsed time with two decimals, e.g. "1.23s"
func (r *ResolutionResult) ProcessingTime() string {
	return fmt.Sprintf("%.2fs", r.Elapsed.Seconds())
}

// Empty reports whether the share resolved to zero files
func (r *ResolutionResult) Empty() bool {
	return len(r.Files) == 0
}

// DirFlag decodes the isdir field, sent either as a string, a number or a bool
type DirFlag bool

// UnmarshalJSON implements json.Unmarshaler
func (d *DirFlag) UnmarshalJSON(data []byte) error {
	raw := string(bytes.Trim(bytes.TrimSpace(data), `"`))
	switch raw {
	case "1", "true":
		*d = true
	default:
		*d = false
	}
	return nil
}

// OptionalInt is an integer that may be absent, null or non-numeric
type OptionalInt struct {
	Value int64
	Valid bool
}

// Int returns a pointer to the value, or nil when unknown
func (o OptionalInt) Int() *int64 {
	if !o.Valid {
		return nil
	}
	v := o.Value
	return &v
}

// UnmarshalJSON implements json.Unmarshaler. Unparseable input leaves the
// value unknown instead of failing the whole document.
func (o *OptionalInt) UnmarshalJSON(data []byte) error {
	*o = OptionalInt{}
	raw := string(bytes.Trim(bytes.TrimSpace(data), `"`))
	if raw == "" || raw == "null" {
		return nil
	}
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*o = OptionalInt{Value: v, Valid: true}
		return nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil && f >= 0 {
		*o = OptionalInt{Value: int64(f), Valid: true}
	}
	return nil
}

// MarshalJSON emits the number or null
func (o OptionalInt) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(o.Value, 10)), nil
}

// Thumbnails maps a thumbnail variant (url1, url3, icon, ...) to its URL.
// Non-string values are dropped.
type Thumbnails map[string]string

// UnmarshalJSON implements json.Unmarshaler
func (t *Thumbnails) UnmarshalJSON(data []byte) error {
	*t = Thumbnails{}
	var raw map[string]interface{}
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return nil
	}
	for variant, value := range raw {
		if s, ok := value.(string); ok {
			(*t)[variant] = s
		}
	}
	return nil
}
