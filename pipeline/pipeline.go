package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dhcgn/mbox-finetune/classify"
	"github.com/dhcgn/mbox-finetune/corpus"
	"github.com/dhcgn/mbox-finetune/dataset"
	"github.com/dhcgn/mbox-finetune/mbox"
	"github.com/dhcgn/mbox-finetune/model"
	"github.com/dhcgn/mbox-finetune/reorder"
	"github.com/dhcgn/mbox-finetune/runner"
	"github.com/dhcgn/mbox-finetune/stats"
)

// DefaultProgressEvery is the number of scanned messages between progress logs.
const DefaultProgressEvery = 1000

type Options struct {
	MboxPath       string
	OutputPath     string
	Format         corpus.Format
	DatasetCSV     string
	QuarantinePath string
	// Strict aborts on the first record that cannot be extracted or dated.
	Strict        bool
	Rules         classify.Options
	ProgressEvery int
}

// Builder turns an mbox archive into a finetune corpus. It registers the
// extract, dataset, reorder and emit stages on a runner.
type Builder struct {
	opts       Options
	runner     *runner.Runner
	classifier *classify.Classifier
	logger     *slog.Logger

	groups  *model.SenderGroups
	rows    []dataset.Row
	cohorts dataset.Cohorts
	emitted int
}

func NewBuilder(opts Options, r *runner.Runner, logger *slog.Logger) (*Builder, error) {
	if opts.MboxPath == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}
	if opts.OutputPath == "" {
		return nil, fmt.Errorf("output path is empty")
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = DefaultProgressEvery
	}
	if logger == nil {
		logger = r.Logger()
	}

	classifier, err := classify.New(opts.Rules)
	if err != nil {
		return nil, fmt.Errorf("classify.New: %w", err)
	}

	b := &Builder{
		opts:       opts,
		runner:     r,
		classifier: classifier,
		logger:     logger,
		groups:     model.NewSenderGroups(),
	}
	r.AddStage("extract", b.extract)
	r.AddStage("dataset", b.buildDataset)
	r.AddStage("reorder", b.reorder)
	r.AddStage("emit", b.emit)
	return b, nil
}

// Groups returns the aggregated records. Valid after the extract stage.
func (b *Builder) Groups() *model.SenderGroups {
	return b.groups
}

// Rows returns the engagement dataset. Valid after the dataset stage.
func (b *Builder) Rows() []dataset.Row {
	return b.rows
}

func (b *Builder) Cohorts() dataset.Cohorts {
	return b.cohorts
}

// Emitted returns the number of corpus examples written.
func (b *Builder) Emitted() int {
	return b.emitted
}

func (b *Builder) extract(ctx context.Context) (err error) {
	var quarantine *mbox.Quarantine
	if b.opts.QuarantinePath != "" {
		quarantine, err = mbox.NewQuarantine(b.opts.QuarantinePath)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := quarantine.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
	}

	scanned := 0
	err = mbox.Read(ctx, b.opts.MboxPath, func(msg *mbox.RawMessage) error {
		scanned++
		b.runner.EmitEvent(stats.Event{Stage: stats.StageParse, Type: stats.EventTypeScanned, Index: msg.Index})
		if scanned%b.opts.ProgressEvery == 0 {
			b.logger.Info("processed emails", "count", scanned, "included", b.groups.Total())
		}

		if msg.Err != nil {
			// Fields after the offending line are lost; the classifier
			// judges what was read before it.
			b.logger.Warn("classifying partial header", "index", msg.Index, "err", msg.Err)
		}

		result, err := b.classifier.Classify(msg)
		if err != nil {
			b.runner.EmitEvent(stats.Event{Stage: stats.StageClassify, Type: stats.EventTypeError, Index: msg.Index, Err: err})
			if b.opts.Strict {
				return err
			}
			b.logger.Warn("skipping message", "index", msg.Index, "err", err)
			return b.quarantine(quarantine, msg)
		}

		if result.Reason != classify.ReasonIncluded {
			b.runner.EmitEvent(stats.Event{Stage: stats.StageClassify, Type: stats.EventTypeSkipped, Index: msg.Index, Detail: string(result.Reason)})
			b.logger.Debug("message skipped", "index", msg.Index, "reason", result.Reason)
			return nil
		}

		b.groups.Add(result.Key, result.Record)
		b.runner.EmitEvent(stats.Event{Stage: stats.StageClassify, Type: stats.EventTypeIncluded, Index: msg.Index, Sender: result.Record.SenderName})
		return nil
	})
	if err != nil {
		return err
	}

	b.logger.Info("extraction finished", "scanned", scanned, "senders", b.groups.Len(), "records", b.groups.Total())
	return nil
}

func (b *Builder) quarantine(q *mbox.Quarantine, msg *mbox.RawMessage) error {
	if q == nil {
		return nil
	}
	if err := q.Add(msg); err != nil {
		return err
	}
	b.runner.EmitEvent(stats.Event{Stage: stats.StageParse, Type: stats.EventTypeQuarantined, Index: msg.Index})
	return nil
}

func (b *Builder) buildDataset(context.Context) error {
	b.rows = dataset.Build(b.groups)
	b.cohorts = dataset.NewCohorts(b.rows)

	if overlap := b.cohorts.Overlap(); len(overlap) > 0 {
		b.logger.Warn("display names in both cohorts, activation wins", "senders", overlap)
	}
	b.logger.Info("dataset built",
		"senders", len(b.rows),
		"activation", len(b.cohorts.Activation),
		"retention", len(b.cohorts.Retention))

	if b.opts.DatasetCSV == "" {
		return nil
	}
	var buf bytes.Buffer
	if err := dataset.WriteCSV(&buf, b.rows); err != nil {
		return err
	}
	if err := os.WriteFile(b.opts.DatasetCSV, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write dataset csv: %w", err)
	}
	b.logger.Info("dataset csv written", "path", b.opts.DatasetCSV)
	return nil
}

func (b *Builder) reorder(context.Context) error {
	return reorder.All(b.groups, func(key string, err error) error {
		b.runner.EmitEvent(stats.Event{Stage: stats.StageReorder, Type: stats.EventTypeError, Sender: key, Err: err})
		if b.opts.Strict {
			return err
		}
		if errors.Is(err, reorder.ErrMissingDate) || errors.Is(err, reorder.ErrMalformedDate) {
			b.logger.Warn("sender kept in arrival order", "sender", key, "err", err)
			return nil
		}
		return err
	})
}

func (b *Builder) emit(context.Context) error {
	n, err := corpus.Write(b.opts.OutputPath, b.opts.Format, b.groups, b.cohorts)
	if err != nil {
		return err
	}
	b.emitted = n
	b.runner.EmitEvent(stats.Event{Stage: stats.StageEmit, Type: stats.EventTypeEmitted, Count: n})
	b.logger.Info("corpus written", "path", b.opts.OutputPath, "format", b.opts.Format, "examples", n)
	return nil
}
