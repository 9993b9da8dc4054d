package utils

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
)

// ProgressTracker shows how many direct links of a share have been resolved
type ProgressTracker struct {
	bar       *pb.ProgressBar
	quiet     bool
	out       io.Writer
	startTime time.Time
	total     int
	current   int
	fallbacks int
	mutex     sync.RWMutex
}

// ResolutionSummary contains final direct-link statistics
type ResolutionSummary struct {
	Total     int
	Resolved  int
	Fallbacks int
	TotalTime time.Duration
	Rate      float64 // links per second
}

// NewProgressTracker creates a tracker for total links writing to stderr
func NewProgressTracker(total int, quiet bool) *ProgressTracker {
	return NewProgressTrackerWithWriter(total, quiet, os.Stderr)
}

// NewProgressTrackerWithWriter creates a tracker writing to out
func NewProgressTrackerWithWriter(total int, quiet bool, out io.Writer) *ProgressTracker {
	tracker := &ProgressTracker{
		quiet:     quiet,
		out:       out,
		startTime: time.Now(),
		total:     total,
	}

	if !quiet && total > 0 {
		tmpl := `{{string . "prefix"}}{{counters . }} {{bar . }} {{percent . }} {{etime . }}`
		bar := pb.ProgressBarTemplate(tmpl).New(total).SetWriter(out)
		bar.Set("prefix", "Resolving links: ")
		tracker.bar = bar.Start()
	}

	return tracker
}

// Increment records one resolved link. fellBack marks links that kept their
// original URL.
func (p *ProgressTracker) Increment(fellBack bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.current++
	if fellBack {
		p.fallbacks++
	}
	if p.bar != nil {
		p.bar.Increment()
	}
}

// Finish completes the progress bar and returns the summary
func (p *ProgressTracker) Finish() *ResolutionSummary {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	totalTime := time.Since(p.startTime)

	if p.bar != nil {
		p.bar.Finish()
	}

	var rate float64
	if totalTime > 0 {
		rate = float64(p.current) / totalTime.Seconds()
	}

	summary := &ResolutionSummary{
		Total:     p.total,
		Resolved:  p.current,
		Fallbacks: p.fallbacks,
		TotalTime: totalTime,
		Rate:      rate,
	}

	if !p.quiet && p.total > 0 {
		p.displaySummary(summary)
	}

	return summary
}

// displaySummary prints the resolution summary statistics
func (p *ProgressTracker) displaySummary(summary *ResolutionSummary) {
	fmt.Fprintf(p.out, "Resolved %d/%d direct links in %v", summary.Resolved, summary.Total, summary.TotalTime.Round(time.Millisecond))
	if summary.Fallbacks > 0 {
		fmt.Fprintf(p.out, " (%d kept the original link)", summary.Fallbacks)
	}
	fmt.Fprintln(p.out)
}

// GetCurrentStats returns the resolution rate and completion percentage
func (p *ProgressTracker) GetCurrentStats() (rate float64, percentage float64) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if elapsed := time.Since(p.startTime).Seconds(); elapsed > 0 {
		rate = float64(p.current) / elapsed
	}
	if p.total > 0 {
		percentage = float64(p.current) / float64(p.total) * 100
	}
	return rate, percentage
}

// IsQuiet returns whether the tracker is in quiet mode
func (p *ProgressTracker) IsQuiet() bool {
	return p.quiet
}
