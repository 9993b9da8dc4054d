package resolver

import (
	"fmt"
	"net/url"
	"strings"

	"teraresolve/internal"
)

var sizeUnits = []string{"bytes", "KB", "MB", "GB", "TB"}

// FormatSize renders a byte count with the largest unit whose scaled value is
// below 1024. Unknown sizes render as "Unknown size".
func FormatSize(size internal.OptionalInt) string {
	if !size.Valid || size.Value < 0 {
		return "Unknown size"
	}
	return FormatBytes(size.Value)
}

// FormatBytes is FormatSize for a known byte count
func FormatBytes(bytes int64) string {
	if bytes < 1024 {
		return fmt.Sprintf("%d bytes", bytes)
	}

	value := float64(bytes)
	unit := 0
	for value >= 1024 && unit < len(sizeUnits)-1 {
		value /= 1024
		unit++
	}
	return fmt.Sprintf("%.2f %s", value, sizeUnits[unit])
}

// Assemble maps listing entries to output records in listing order. direct is
// indexed like entries; an empty slot keeps the original download link.
// Entries without a download link are skipped.
func Assemble(entries []internal.ListingEntry, direct []string) []internal.ResolvedFile {
	files := make([]internal.ResolvedFile, 0, len(entries))

	for i, entry := range entries {
		if entry.DLink == "" {
			continue
		}

		directURL := entry.DLink
		if i < len(direct) && direct[i] != "" {
			directURL = direct[i]
		}

		name := entry.ServerFilename
		if name == "" {
			name = "Unknown"
		}

		thumbnails := make(map[string]string, len(entry.Thumbs))
		for variant, link := range entry.Thumbs {
			thumbnails[variant] = link
		}

		files = append(files, internal.ResolvedFile{
			FileName:          name,
			Size:              FormatSize(entry.Size),
			SizeBytes:         entry.Size.Int(),
			DownloadURL:       entry.DLink,
			DirectDownloadURL: directURL,
			IsDirectory:       bool(entry.IsDir),
			ModifyTime:        entry.ServerMtime.Int(),
			Thumbnails:        thumbnails,
		})
	}

	return files
}

// ThumbnailDimensions reads the size=c<W>_u<H> parameter of a thumbnail URL
// and returns "WxH", or "original" when the URL carries no size.
func ThumbnailDimensions(thumbURL string) string {
	parsed, err := url.Parse(thumbURL)
	if err != nil {
		return "original"
	}
	size := parsed.Query().Get("size")
	if size == "" {
		return "original"
	}
	parts := strings.Split(strings.ReplaceAll(size, "c", ""), "_u")
	if len(parts) == 2 && parts[0] != "" && parts[1] != "" {
		return parts[0] + "x" + parts[1]
	}
	return "original"
}
