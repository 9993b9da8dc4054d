package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teraresolve/internal"
)

func sampleResult() *internal.ResolutionResult {
	size := int64(512)
	return &internal.ResolutionResult{
		URL:     "https://terabox.com/s/1AbCdEfGh",
		ShareID: "1AbCdEfGh",
		Elapsed: 1234 * time.Millisecond,
		Files: []internal.ResolvedFile{
			{
				FileName:          "small.txt",
				Size:              "512 bytes",
				SizeBytes:         &size,
				DownloadURL:       "https://d.terabox.com/file/small.txt",
				DirectDownloadURL: "https://cdn.terabox.com/small.txt",
				Thumbnails: map[string]string{
					"url3": "https://thumb.terabox.com/x?size=c360_u270",
					"icon": "https://thumb.terabox.com/icon",
				},
			},
			{
				FileName:          "same.bin",
				Size:              "Unknown size",
				DownloadURL:       "https://d.terabox.com/file/same.bin",
				DirectDownloadURL: "https://d.terabox.com/file/same.bin",
				Thumbnails:        map[string]string{},
			},
		},
	}
}

func TestRenderSummary(t *testing.T) {
	color.NoColor = true

	var out bytes.Buffer
	renderSummary(&out, sampleResult())
	text := out.String()

	assert.Contains(t, text, "Share 1AbCdEfGh (https://terabox.com/s/1AbCdEfGh)")
	assert.Contains(t, text, "2 files resolved in 1.23s")
	assert.Contains(t, text, "1. small.txt  512 bytes")
	assert.Contains(t, text, "Direct:   https://cdn.terabox.com/small.txt")
	assert.Contains(t, text, "Original: https://d.terabox.com/file/small.txt")
	assert.Contains(t, text, "Thumbnail url3 (360x270)")
	assert.Contains(t, text, "Thumbnail icon (original)")
	assert.NotContains(t, text, "Original: https://d.terabox.com/file/same.bin")
}

func TestWriteResultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "result.json")

	require.NoError(t, writeResultFile(path, newResultDocument(sampleResult())))
	// Second write replaces the first.
	require.NoError(t, writeResultFile(path, newResultDocument(sampleResult())))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "success", doc["status"])
	assert.Equal(t, "1AbCdEfGh", doc["share_id"])
	assert.Equal(t, float64(2), doc["file_count"])
	assert.Equal(t, "1.23s", doc["processing_time"])

	files := doc["files"].([]any)
	second := files[1].(map[string]any)
	assert.Nil(t, second["size_bytes"])
}
