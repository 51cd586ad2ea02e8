package progress

import (
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pterm/pterm"

	"github.com/dhcgn/mbox-finetune/stats"
)

// Bar manages a progress bar for tracking message processing.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	scanned int
	mu      sync.Mutex
	enabled bool
}

// New creates a progress bar when logLevel is "info" and the total is known.
func New(total int, logLevel string) *Bar {
	bar := &Bar{
		total:   total,
		enabled: logLevel == "info" && total > 0,
	}

	if bar.enabled {
		pb, err := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Parsing messages").
			Start()
		if err != nil {
			bar.enabled = false
			return bar
		}
		bar.pb = pb

		pterm.Info.Printf("Total messages in mbox: %d\n", total)
		pterm.Println()
	}

	return bar
}

// Enabled reports whether the bar renders anything.
func (b *Bar) Enabled() bool {
	return b.enabled
}

// Update advances the bar on scanned messages and surfaces errors above it.
func (b *Bar) Update(evt stats.Event) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeScanned:
		b.scanned++
		if b.scanned <= b.total {
			b.pb.Increment()
		}
	case stats.EventTypeIncluded:
		if evt.Sender != "" {
			b.pb.UpdateTitle("Parsing: " + truncate(evt.Sender, 40))
		}
	case stats.EventTypeError:
		if evt.Err != nil {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
	}
}

// Stop finalizes the progress bar.
func (b *Bar) Stop(err error) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		_, _ = b.pb.Stop()
		pterm.Error.Printf("Processing failed: %v\n", err)
		return
	}

	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}
	_, _ = b.pb.Stop()
	pterm.Success.Println("Processing complete!")
}

// Reporter drives the bar from pipeline events and prints a summary at the end.
type Reporter struct {
	bar       *Bar
	collector *stats.Collector
	started   time.Time
}

// NewReporter subscribes the bar to stream. Nothing is subscribed when the
// bar is disabled.
func NewReporter(stream stats.EventStream, bar *Bar) *Reporter {
	reporter := &Reporter{
		bar:       bar,
		collector: stats.NewCollector(),
		started:   time.Now(),
	}

	if bar != nil && bar.enabled {
		stream.SubscribeStats("progress-bar", bar.Update)
		stream.SubscribeStats("progress-stats", reporter.collector.Apply)
		stream.OnFinish("progress-bar", reporter.finish)
	}

	return reporter
}

func (r *Reporter) finish(err error) {
	r.bar.Stop(err)
	PrintSummary(r.collector.Snapshot(), time.Since(r.started))
}

// PrintSummary renders the run counters as a pterm section.
func PrintSummary(summary stats.Summary, duration time.Duration) {
	pterm.Println()
	pterm.DefaultSection.Println("Summary Statistics")
	pterm.Info.Printf("Duration: %v\n", duration)
	pterm.Info.Printf("Scanned: %d\n", summary.Scanned)
	pterm.Info.Printf("Included: %d\n", summary.Included)
	pterm.Info.Printf("Skipped: %d\n", summary.Skipped)
	for _, p := range stats.Top(summary.SkipReasons, -1) {
		pterm.Info.Printf("  %s: %d\n", p.Key, p.Value)
	}
	pterm.Info.Printf("Quarantined: %d\n", summary.Quarantined)
	pterm.Info.Printf("Emitted lines: %d\n", summary.Emitted)
	pterm.Info.Printf("Errors: %d\n", summary.Errors)
	if summary.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", summary.LastError)
	}
}

// truncate shortens s to at most limit runes, marking the cut with "...".
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit-3]) + "..."
}
