package corpus

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mbox-finetune/dataset"
	"github.com/dhcgn/mbox-finetune/model"
)

func TestLine_Format(t *testing.T) {
	rec := &model.Record{Order: 2, Label: "updates", SenderName: "Acme", Subject: "Sale"}

	assert.Equal(t, "updates; from Acme; 2th email sent; subject: Sale", Line(rec, dataset.Cohorts{}))

	cohorts := dataset.NewCohorts([]dataset.Row{{Sender: "Acme", Opened: 0}})
	assert.Equal(t, "activation; updates; from Acme; 2th email sent; subject: Sale", Line(rec, cohorts))

	rec.Order = 1
	cohorts = dataset.NewCohorts([]dataset.Row{{Sender: "Acme", Opened: 3}})
	assert.Equal(t, "retention; updates; from Acme; 1th email sent; subject: Sale", Line(rec, cohorts))
}

func TestLine_NoEscaping(t *testing.T) {
	rec := &model.Record{Order: 0, Label: "promotions", SenderName: "A; B", Subject: "50% off; today"}
	assert.Equal(t, "promotions; from A; B; 0th email sent; subject: 50% off; today", Line(rec, dataset.Cohorts{}))
}

func TestRender_RetentionForWholeSender(t *testing.T) {
	g := model.NewSenderGroups()
	g.Add("Acme <a@acme.com>", &model.Record{SenderName: "Acme", Label: "promotions", Subject: "one", Opened: 0})
	g.Add("Acme <a@acme.com>", &model.Record{SenderName: "Acme", Label: "promotions", Subject: "two", Opened: 1})
	g.Add("Shop <s@shop.com>", &model.Record{SenderName: "Shop", Label: "updates", Subject: "hi", Opened: 0})

	lines := Render(g, dataset.NewCohorts(dataset.Build(g)))
	assert.Equal(t, []string{
		"retention; promotions; from Acme; 0th email sent; subject: one",
		"retention; promotions; from Acme; 1th email sent; subject: two",
		"activation; updates; from Shop; 0th email sent; subject: hi",
	}, lines)
}

func TestWriteText_OverwritesWithoutTrailingNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "finetune-emails.txt")
	require.NoError(t, os.WriteFile(path, []byte("stale content that is longer than the corpus"), 0o644))

	require.NoError(t, WriteText(path, []string{"a", "b"}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a\nb", string(data))
}

func TestWrite_JSONL(t *testing.T) {
	g := model.NewSenderGroups()
	g.Add("Acme <a@acme.com>", &model.Record{SenderName: "Acme", Label: "promotions", Subject: "line\nbreak; x", Date: "Mon, 01 Jan 2024 10:00:00 +0000", Opened: 1})
	g.Add("Shop <s@shop.com>", &model.Record{SenderName: "Shop", Label: "updates", Subject: "hi"})
	cohorts := dataset.NewCohorts(dataset.Build(g))

	path := filepath.Join(t.TempDir(), "corpus.jsonl")
	n, err := Write(path, FormatJSONL, g, cohorts)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var examples []Example
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var ex Example
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ex))
		examples = append(examples, ex)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, examples, 2)

	assert.Equal(t, model.CohortRetention, examples[0].Cohort)
	assert.Equal(t, "line\nbreak; x", examples[0].Subject)
	assert.True(t, strings.HasPrefix(examples[0].Text, "retention; promotions; from Acme; 0th email sent"))
	assert.Equal(t, model.CohortActivation, examples[1].Cohort)
}

func TestWrite_UnknownFormat(t *testing.T) {
	_, err := Write(filepath.Join(t.TempDir(), "x"), Format("xml"), model.NewSenderGroups(), dataset.Cohorts{})
	assert.Error(t, err)
}
