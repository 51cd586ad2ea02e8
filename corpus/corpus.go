// Package corpus renders records into finetuning examples.
package corpus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dhcgn/mbox-finetune/dataset"
	"github.com/dhcgn/mbox-finetune/model"
)

type Format string

const (
	FormatText  Format = "text"
	FormatJSONL Format = "jsonl"
)

// Line renders one record. Subject and label are not escaped.
func Line(rec *model.Record, cohorts dataset.Cohorts) string {
	var sb strings.Builder
	if cohort, ok := cohorts.Lookup(rec.SenderName); ok {
		sb.WriteString(string(cohort))
		sb.WriteString("; ")
	}
	sb.WriteString(rec.Label)
	sb.WriteString("; from ")
	sb.WriteString(rec.SenderName)
	sb.WriteString("; ")
	sb.WriteString(strconv.Itoa(rec.Order))
	sb.WriteString("th email sent; subject: ")
	sb.WriteString(rec.Subject)
	return sb.String()
}

// Render returns one line per record, senders in first-seen order.
func Render(groups *model.SenderGroups, cohorts dataset.Cohorts) []string {
	lines := make([]string, 0, groups.Total())
	_ = groups.Each(func(_ string, records []*model.Record) error {
		for _, rec := range records {
			lines = append(lines, Line(rec, cohorts))
		}
		return nil
	})
	return lines
}

// WriteText replaces path with the lines joined by a newline, without a
// trailing newline.
func WriteText(path string, lines []string) error {
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return fmt.Errorf("write corpus: %w", err)
	}
	return nil
}

// Example is the structured form of one finetuning line.
type Example struct {
	Cohort  model.Cohort `json:"cohort,omitempty"`
	Label   string       `json:"label"`
	Sender  string       `json:"sender"`
	Order   int          `json:"order"`
	Subject string       `json:"subject"`
	Date    string       `json:"date"`
	Opened  int          `json:"opened"`
	Text    string       `json:"text"`
}

// WriteJSONL replaces path with one JSON object per record.
func WriteJSONL(path string, groups *model.SenderGroups, cohorts dataset.Cohorts) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create corpus: %w", err)
	}
	writer := bufio.NewWriterSize(file, 64*1024)

	err = groups.Each(func(_ string, records []*model.Record) error {
		for _, rec := range records {
			cohort, _ := cohorts.Lookup(rec.SenderName)
			data, err := json.Marshal(Example{
				Cohort:  cohort,
				Label:   rec.Label,
				Sender:  rec.SenderName,
				Order:   rec.Order,
				Subject: rec.Subject,
				Date:    rec.Date,
				Opened:  rec.Opened,
				Text:    Line(rec, cohorts),
			})
			if err != nil {
				return fmt.Errorf("encode example: %w", err)
			}
			if _, err := writer.Write(data); err != nil {
				return fmt.Errorf("write example: %w", err)
			}
			if err := writer.WriteByte('\n'); err != nil {
				return fmt.Errorf("write newline: %w", err)
			}
		}
		return nil
	})

	if err == nil {
		if ferr := writer.Flush(); ferr != nil {
			err = fmt.Errorf("flush corpus: %w", ferr)
		}
	}
	if cerr := file.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close corpus: %w", cerr)
	}
	return err
}

// Write persists the corpus in the requested format and returns the number
// of examples written.
func Write(path string, format Format, groups *model.SenderGroups, cohorts dataset.Cohorts) (int, error) {
	switch format {
	case FormatText, "":
		lines := Render(groups, cohorts)
		return len(lines), WriteText(path, lines)
	case FormatJSONL:
		return groups.Total(), WriteJSONL(path, groups, cohorts)
	default:
		return 0, fmt.Errorf("unknown corpus format %q", format)
	}
}
