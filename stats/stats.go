package stats

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

type Stage string

const (
	StageParse    Stage = "parse"
	StageClassify Stage = "classify"
	StageReorder  Stage = "reorder"
	StageEmit     Stage = "emit"
)

type EventType string

const (
	EventTypeScanned     EventType = "scanned"
	EventTypeIncluded    EventType = "included"
	EventTypeSkipped     EventType = "skipped"
	EventTypeQuarantined EventType = "quarantined"
	EventTypeEmitted     EventType = "emitted"
	EventTypeError       EventType = "error"
)

type Event struct {
	Stage  Stage
	Type   EventType
	Index  int
	Sender string
	Err    error
	// Detail carries the skip reason for EventTypeSkipped.
	Detail string
	Count  int
}

type Summary struct {
	Scanned     int
	Included    int
	Skipped     int
	SkipReasons map[string]int
	Quarantined int
	Emitted     int
	Errors      int
	LastError   error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"scanned", s.Scanned,
		"included", s.Included,
		"skipped", s.Skipped,
		"quarantined", s.Quarantined,
		"emitted", s.Emitted,
		"errors", s.Errors,
	}
	for _, reason := range slices.Sorted(maps.Keys(s.SkipReasons)) {
		attrs = append(attrs, "skipped."+reason, s.SkipReasons[reason])
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{summary: Summary{SkipReasons: make(map[string]int)}}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	summary.SkipReasons = maps.Clone(c.summary.SkipReasons)
	c.mu.Unlock()
	return summary
}

func (c *Collector) Apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeScanned:
		c.summary.Scanned++
	case EventTypeIncluded:
		c.summary.Included++
	case EventTypeSkipped:
		c.summary.Skipped++
		c.summary.SkipReasons[evt.Detail]++
	case EventTypeQuarantined:
		c.summary.Quarantined++
	case EventTypeEmitted:
		c.summary.Emitted += evt.Count
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

// EventStream is implemented by the pipeline runner.
type EventStream interface {
	SubscribeStats(name string, fn func(Event))
	OnFinish(name string, fn func(error))
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.collector.Apply)
	stream.OnFinish("stats-reporter", reporter.finish)
	return reporter
}

func (r *Reporter) finish(err error) {
	if r.logger == nil {
		return
	}
	attrs := append(r.Summary().LogAttrs(), "duration", time.Since(r.started))
	if err != nil {
		r.logger.Debug("stats collection stopped", append(attrs, "err", err)...)
		return
	}
	r.logger.Info("stats summary", attrs...)
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// PrettyPrintTop prints the top N most frequent items in a map.
func PrettyPrintTop(w io.Writer, m map[string]int, limit int) {
	for i, p := range Top(m, limit) {
		fmt.Fprintf(w, "%d. %s (%d)\n", i+1, p.Key, p.Value)
	}
}

type Pair struct {
	Key   string
	Value int
}

// Top returns up to limit entries ordered by count descending, then key.
func Top(m map[string]int, limit int) []Pair {
	pairs := lo.MapToSlice(m, func(k string, v int) Pair { return Pair{k, v} })
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})
	if limit >= 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs
}
