package stats

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollector_Apply(t *testing.T) {
	c := NewCollector()
	boom := errors.New("boom")

	events := []Event{
		{Stage: StageParse, Type: EventTypeScanned},
		{Stage: StageParse, Type: EventTypeScanned},
		{Stage: StageParse, Type: EventTypeScanned},
		{Stage: StageClassify, Type: EventTypeIncluded},
		{Stage: StageClassify, Type: EventTypeSkipped, Detail: "excluded_label"},
		{Stage: StageClassify, Type: EventTypeSkipped, Detail: "excluded_label"},
		{Stage: StageClassify, Type: EventTypeQuarantined},
		{Stage: StageReorder, Type: EventTypeError, Err: boom},
		{Stage: StageEmit, Type: EventTypeEmitted, Count: 7},
	}
	for _, evt := range events {
		c.Apply(evt)
	}

	s := c.Snapshot()
	assert.Equal(t, 3, s.Scanned)
	assert.Equal(t, 1, s.Included)
	assert.Equal(t, 2, s.Skipped)
	assert.Equal(t, map[string]int{"excluded_label": 2}, s.SkipReasons)
	assert.Equal(t, 1, s.Quarantined)
	assert.Equal(t, 7, s.Emitted)
	assert.Equal(t, 1, s.Errors)
	assert.ErrorIs(t, s.LastError, boom)

	s.SkipReasons["excluded_label"] = 100
	assert.Equal(t, 2, c.Snapshot().SkipReasons["excluded_label"])
}

func TestSummary_LogAttrs(t *testing.T) {
	s := Summary{Scanned: 2, SkipReasons: map[string]int{"no_labels": 1, "excluded_label": 1}}
	attrs := s.LogAttrs()

	assert.Contains(t, attrs, "skipped.excluded_label")
	assert.Contains(t, attrs, "skipped.no_labels")
	assert.NotContains(t, attrs, "lastError")
	assert.Len(t, attrs, 16)
}

func TestTop(t *testing.T) {
	m := map[string]int{"b": 2, "a": 2, "c": 5, "d": 1}
	assert.Equal(t, []Pair{{"c", 5}, {"a", 2}, {"b", 2}}, Top(m, 3))
	assert.Len(t, Top(m, 10), 4)
	assert.Empty(t, Top(nil, 3))
}

func TestPrettyPrintTop(t *testing.T) {
	var buf bytes.Buffer
	PrettyPrintTop(&buf, map[string]int{"Acme": 3, "Shop": 1, "Bank": 2}, 2)
	assert.Equal(t, "1. Acme (3)\n2. Bank (2)\n", buf.String())
}
