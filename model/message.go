package model

import "strings"

// Record is a single marketing email extracted from an mbox archive.
type Record struct {
	// Order starts as the arrival index within the sender group and is
	// rewritten by the reorderer to the position by send date.
	Order      int
	SenderName string
	Subject    string
	Date       string
	Opened     int
	Label      string
}

// Cohort partitions senders by engagement.
type Cohort string

const (
	CohortActivation Cohort = "activation"
	CohortRetention  Cohort = "retention"
)

// SenderGroups maps the raw From header to the records received from it.
// Keys are remembered in first-seen order so every pass over the groups is
// deterministic.
type SenderGroups struct {
	keys   []string
	groups map[string][]*Record
}

func NewSenderGroups() *SenderGroups {
	return &SenderGroups{groups: make(map[string][]*Record)}
}

// Add appends rec to the group of from and assigns its provisional order.
func (g *SenderGroups) Add(from string, rec *Record) {
	list, ok := g.groups[from]
	if !ok {
		g.keys = append(g.keys, from)
	}
	rec.Order = len(list)
	g.groups[from] = append(list, rec)
}

// Keys returns the sender keys in first-seen order.
func (g *SenderGroups) Keys() []string {
	return append([]string(nil), g.keys...)
}

// Records returns the list for key. The slice is shared with the group.
func (g *SenderGroups) Records(key string) []*Record {
	return g.groups[key]
}

// Len returns the number of sender groups.
func (g *SenderGroups) Len() int {
	return len(g.keys)
}

// Total returns the number of records across all groups.
func (g *SenderGroups) Total() int {
	n := 0
	for _, list := range g.groups {
		n += len(list)
	}
	return n
}

// Each calls fn for every group in first-seen order and stops at the first error.
func (g *SenderGroups) Each(fn func(key string, records []*Record) error) error {
	for _, key := range g.keys {
		if err := fn(key, g.groups[key]); err != nil {
			return err
		}
	}
	return nil
}

// DisplayName returns the part of a From header before the first '<',
// trimmed, with one pair of surrounding double quotes removed.
func DisplayName(from string) string {
	if idx := strings.IndexByte(from, '<'); idx >= 0 {
		from = from[:idx]
	}
	name := strings.TrimSpace(from)
	if len(name) >= 2 && name[0] == '"' && name[len(name)-1] == '"' {
		name = strings.TrimSpace(name[1 : len(name)-1])
	}
	return name
}
