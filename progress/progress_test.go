package progress

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/dhcgn/mbox-finetune/stats"
)

type recordingStream struct {
	subscribed []string
	finishers  []string
}

func (s *recordingStream) SubscribeStats(name string, _ func(stats.Event)) {
	s.subscribed = append(s.subscribed, name)
}

func (s *recordingStream) OnFinish(name string, _ func(error)) {
	s.finishers = append(s.finishers, name)
}

func TestNew_DisabledOutsideInfoLevel(t *testing.T) {
	for _, level := range []string{"debug", "warn", "error"} {
		bar := New(10, level)
		assert.False(t, bar.Enabled(), level)
		bar.Update(stats.Event{Type: stats.EventTypeScanned})
		bar.Stop(nil)
	}
}

func TestNew_DisabledWithoutTotal(t *testing.T) {
	assert.False(t, New(0, "info").Enabled())
}

func TestNewReporter_DisabledBarSubscribesNothing(t *testing.T) {
	stream := &recordingStream{}
	NewReporter(stream, New(10, "debug"))
	NewReporter(stream, nil)

	assert.Empty(t, stream.subscribed)
	assert.Empty(t, stream.finishers)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "Acme", truncate("Acme", 40))
	assert.Equal(t, strings.Repeat("a", 40), truncate(strings.Repeat("a", 40), 40))

	got := truncate(strings.Repeat("é", 50), 40)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("é", 37)+"...", got)
	assert.Equal(t, 40, utf8.RuneCountInString(got))
}
