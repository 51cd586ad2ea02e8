// Package reorder rewrites record order from send dates instead of archive order.
package reorder

import (
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/dhcgn/mbox-finetune/model"
)

var (
	ErrMissingDate   = errors.New("date header missing")
	ErrMalformedDate = errors.New("date header malformed")
)

// DateError reports a Date header that is not an RFC 5322 date-time.
type DateError struct {
	Value string
	Err   error
}

func (e *DateError) Error() string {
	return fmt.Sprintf("parse date %q: %v", e.Value, e.Err)
}

func (e *DateError) Unwrap() []error {
	return []error{ErrMalformedDate, e.Err}
}

// ParseDate parses a raw Date header such as "Mon, 01 Jan 2024 10:00:00 +0000".
// Trailing comments, obsolete zone names and a missing day of week are
// accepted. No default is substituted for a missing value.
func ParseDate(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, ErrMissingDate
	}
	t, err := mail.ParseDate(value)
	if err != nil {
		return time.Time{}, &DateError{Value: value, Err: err}
	}
	return t, nil
}

// ByDate sorts records ascending by send date and sets Order to the new
// position. Records sent at the same instant keep their relative order.
// If any date fails to parse the slice is left untouched.
func ByDate(records []*model.Record) error {
	type dated struct {
		at  time.Time
		rec *model.Record
	}

	items := make([]dated, len(records))
	for i, rec := range records {
		at, err := ParseDate(rec.Date)
		if err != nil {
			return fmt.Errorf("record %d from %q: %w", rec.Order, rec.SenderName, err)
		}
		items[i] = dated{at: at, rec: rec}
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].at.Before(items[j].at)
	})

	for i, item := range items {
		item.rec.Order = i
		records[i] = item.rec
	}
	return nil
}

// All reorders every group independently. A failing group is passed to
// onError; returning an error from onError aborts, returning nil leaves the
// group in arrival order and continues.
func All(groups *model.SenderGroups, onError func(key string, err error) error) error {
	return groups.Each(func(key string, records []*model.Record) error {
		err := ByDate(records)
		if err == nil {
			return nil
		}
		err = fmt.Errorf("reorder %q: %w", key, err)
		if onError == nil {
			return err
		}
		return onError(key, err)
	})
}
