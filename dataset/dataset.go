// Package dataset reduces sender groups to engagement counts and cohorts.
package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/samber/lo"

	"github.com/dhcgn/mbox-finetune/model"
)

// Row summarises one sender group.
type Row struct {
	Sender string // display name
	Key    string // raw From header
	Opened int
	Sent   int
}

// Cohort classifies the row by its aggregate opened count.
func (r Row) Cohort() model.Cohort {
	return CohortOf(r.Opened)
}

// CohortOf maps an aggregate opened count to a cohort.
func CohortOf(opened int) model.Cohort {
	if opened > 0 {
		return model.CohortRetention
	}
	return model.CohortActivation
}

// Build returns one row per sender group in first-seen order.
func Build(groups *model.SenderGroups) []Row {
	rows := make([]Row, 0, groups.Len())
	for _, key := range groups.Keys() {
		records := groups.Records(key)
		rows = append(rows, Row{
			Sender: model.DisplayName(key),
			Key:    key,
			Opened: lo.SumBy(records, func(r *model.Record) int { return r.Opened }),
			Sent:   len(records),
		})
	}
	return rows
}

// Cohorts holds the display names in each cohort. A display name shared by
// several addresses can appear in both sets.
type Cohorts struct {
	Activation map[string]struct{}
	Retention  map[string]struct{}
}

// NewCohorts computes both sets once from the full dataset.
func NewCohorts(rows []Row) Cohorts {
	c := Cohorts{
		Activation: make(map[string]struct{}),
		Retention:  make(map[string]struct{}),
	}
	for _, row := range rows {
		switch row.Cohort() {
		case model.CohortActivation:
			c.Activation[row.Sender] = struct{}{}
		case model.CohortRetention:
			c.Retention[row.Sender] = struct{}{}
		}
	}
	return c
}

// Lookup returns the cohort tag for a display name. Activation is checked
// first; ok is false when the name is in neither set.
func (c Cohorts) Lookup(sender string) (model.Cohort, bool) {
	if _, ok := c.Activation[sender]; ok {
		return model.CohortActivation, true
	}
	if _, ok := c.Retention[sender]; ok {
		return model.CohortRetention, true
	}
	return "", false
}

// Overlap returns display names present in both cohorts, sorted.
func (c Cohorts) Overlap() []string {
	names := lo.Filter(lo.Keys(c.Activation), func(name string, _ int) bool {
		_, ok := c.Retention[name]
		return ok
	})
	slices.Sort(names)
	return names
}

// WriteCSV writes the dataset table with a header row.
func WriteCSV(w io.Writer, rows []Row) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"sender", "key", "opened_emails", "sent_emails", "cohort"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.Sender,
			row.Key,
			strconv.Itoa(row.Opened),
			strconv.Itoa(row.Sent),
			string(row.Cohort()),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}
