package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSenderGroups_AddAssignsArrivalOrder(t *testing.T) {
	g := NewSenderGroups()
	g.Add("Acme <a@acme.com>", &Record{Subject: "one"})
	g.Add("Shop <s@shop.com>", &Record{Subject: "two"})
	g.Add("Acme <a@acme.com>", &Record{Subject: "three"})

	acme := g.Records("Acme <a@acme.com>")
	require.Len(t, acme, 2)
	assert.Equal(t, 0, acme[0].Order)
	assert.Equal(t, 1, acme[1].Order)
	assert.Equal(t, 0, g.Records("Shop <s@shop.com>")[0].Order)

	assert.Equal(t, []string{"Acme <a@acme.com>", "Shop <s@shop.com>"}, g.Keys())
	assert.Equal(t, 2, g.Len())
	assert.Equal(t, 3, g.Total())
}

func TestSenderGroups_SameDisplayNameDifferentAddress(t *testing.T) {
	g := NewSenderGroups()
	g.Add("Acme <news@acme.com>", &Record{SenderName: "Acme"})
	g.Add("Acme <deals@acme.com>", &Record{SenderName: "Acme"})

	assert.Equal(t, 2, g.Len())
	assert.Equal(t, 0, g.Records("Acme <deals@acme.com>")[0].Order)
}

func TestSenderGroups_EachStopsOnError(t *testing.T) {
	g := NewSenderGroups()
	g.Add("a", &Record{})
	g.Add("b", &Record{})

	stop := errors.New("stop")
	var seen []string
	err := g.Each(func(key string, _ []*Record) error {
		seen = append(seen, key)
		return stop
	})

	assert.ErrorIs(t, err, stop)
	assert.Equal(t, []string{"a"}, seen)
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		from string
		want string
	}{
		{"Acme <a@acme.com>", "Acme"},
		{"  Acme Inc   <a@acme.com>", "Acme Inc"},
		{"\"Acme, Inc\" <a@acme.com>", "Acme, Inc"},
		{"a@acme.com", "a@acme.com"},
		{"<a@acme.com>", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.from, func(t *testing.T) {
			assert.Equal(t, tt.want, DisplayName(tt.from))
		})
	}
}
