package internal

import (
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListingEntryDecodesLooseFields(t *testing.T) {
	doc := `[
		{"path":"/a","server_filename":"a.mp4","isdir":"0","size":"512","dlink":"https://d/1","server_mtime":1700000000,"thumbs":{"url1":"https://t/1","icon":"https://t/i","count":3}},
		{"path":"/b","server_filename":"b","isdir":1,"size":null},
		{"path":"/c","server_filename":"c.bin","isdir":false,"size":"n/a","thumbs":[]}
	]`

	var entries []ListingEntry
	require.NoError(t, sonic.Unmarshal([]byte(doc), &entries))
	require.Len(t, entries, 3)

	assert.False(t, bool(entries[0].IsDir))
	assert.Equal(t, OptionalInt{Value: 512, Valid: true}, entries[0].Size)
	assert.Equal(t, int64(1700000000), entries[0].ServerMtime.Value)
	assert.Equal(t, Thumbnails{"url1": "https://t/1", "icon": "https://t/i"}, entries[0].Thumbs)

	assert.True(t, bool(entries[1].IsDir))
	assert.False(t, entries[1].Size.Valid)
	assert.Empty(t, entries[1].DLink)

	assert.False(t, entries[2].Size.Valid, "non-numeric size is unknown")
	assert.Empty(t, entries[2].Thumbs)
}

func TestOptionalIntInt(t *testing.T) {
	assert.Nil(t, OptionalInt{}.Int())

	v := OptionalInt{Value: 42, Valid: true}.Int()
	require.NotNil(t, v)
	assert.Equal(t, int64(42), *v)
}

func TestResolutionResultProcessingTime(t *testing.T) {
	r := &ResolutionResult{Elapsed: 1234 * time.Millisecond}
	assert.Equal(t, "1.23s", r.ProcessingTime())
	assert.True(t, r.Empty())
}
