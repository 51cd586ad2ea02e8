package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-finetune/classify"
	"github.com/dhcgn/mbox-finetune/config"
	"github.com/dhcgn/mbox-finetune/dataset"
	"github.com/dhcgn/mbox-finetune/mbox"
	"github.com/dhcgn/mbox-finetune/model"
	"github.com/dhcgn/mbox-finetune/stats"
)

const (
	reportLabels  = "Labels"
	reportReasons = "Reasons"
	reportCohorts = "Cohorts"
	reportSenders = "Senders"
)

var headersToTrack = []string{"Delivered-To", "From", "Subject"}

type mboxStatsOptions struct {
	reportDir     string
	topN          int
	refreshEvery  int
	recipients    []string
	rulesPath     string
	excludeHeader []string
}

// mailboxStats holds value counters per report name.
type mailboxStats struct {
	counter  map[string]map[string]int
	messages int
	included int
}

func newMailboxStats() *mailboxStats {
	s := &mailboxStats{counter: make(map[string]map[string]int)}
	for _, name := range reportNames() {
		s.counter[name] = make(map[string]int)
	}
	return s
}

func reportNames() []string {
	return append(append([]string(nil), headersToTrack...), reportLabels, reportReasons, reportCohorts, reportSenders)
}

func newMboxStatsCommand() *cobra.Command {
	opts := &mboxStatsOptions{}
	cmd := &cobra.Command{
		Use:   "mbox-stats [mbox file]",
		Short: "Analyse the mbox file and show label, sender and cohort statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMboxStats(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.reportDir, "output", "o", ".", "Output directory for CSV reports")
	cmd.Flags().IntVarP(&opts.topN, "top", "t", 10, "Number of top items to display in statistics")
	cmd.Flags().IntVar(&opts.refreshEvery, "refresh", 1000, "Redraw statistics every N messages (0 disables)")
	cmd.Flags().StringArrayVar(&opts.recipients, "recipient", nil, "Delivered-To address; enables classification and cohort statistics")
	cmd.Flags().StringVar(&opts.rulesPath, "rules", "", "YAML file overriding the labeling rules")
	cmd.Flags().StringArrayVar(&opts.excludeHeader, "exclude-header", nil, "Regex block-list applied to raw message headers")
	return cmd
}

func runMboxStats(cmd *cobra.Command, mboxPath string, opts *mboxStatsOptions) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Analyzing mbox file:", mboxPath)

	classifier, err := statsClassifier(opts)
	if err != nil {
		return err
	}

	printStats := func(s *mailboxStats, clear bool) {
		if clear {
			// ANSI escape code to clear screen and move cursor to top-left
			fmt.Fprint(out, "\033[H\033[2J")
		}
		printMailboxStats(out, s, opts.topN, classifier != nil)
	}

	s, err := collectMailboxStats(cmd.Context(), mboxPath, classifier, func(s *mailboxStats) {
		if opts.refreshEvery > 0 && s.messages%opts.refreshEvery == 0 {
			printStats(s, true)
		}
	})
	if err != nil {
		return fmt.Errorf("error reading mbox file: %w", err)
	}

	printStats(s, false)

	if err := saveCSVReports(s.counter, reportNames(), opts.reportDir, 1000); err != nil {
		return fmt.Errorf("error saving CSV reports: %w", err)
	}

	fmt.Fprintf(out, "\nReports saved to directory: %s\n", opts.reportDir)
	return nil
}

// statsClassifier returns nil when no recipient is configured.
func statsClassifier(opts *mboxStatsOptions) (*classify.Classifier, error) {
	rules := classify.DefaultOptions()
	if opts.rulesPath != "" {
		var err error
		if rules, err = config.LoadRules(opts.rulesPath); err != nil {
			return nil, err
		}
	}
	if len(opts.recipients) > 0 {
		rules.Recipients = opts.recipients
	}
	rules.ExcludeHeader = append(rules.ExcludeHeader, opts.excludeHeader...)
	if len(rules.Recipients) == 0 {
		return nil, nil
	}

	classifier, err := classify.New(rules)
	if err != nil {
		return nil, fmt.Errorf("create classifier: %w", err)
	}
	return classifier, nil
}

func collectMailboxStats(ctx context.Context, mboxPath string, classifier *classify.Classifier, onMessage func(*mailboxStats)) (*mailboxStats, error) {
	s := newMailboxStats()
	groups := model.NewSenderGroups()

	err := mbox.Read(ctx, mboxPath, func(m *mbox.RawMessage) error {
		s.messages++
		defer onMessage(s)

		if m.Err != nil {
			s.counter[reportReasons]["partial_header"]++
		}

		for _, headerName := range headersToTrack {
			if value := headerValue(m, headerName); value != "" {
				s.counter[headerName][value]++
			}
		}
		for _, label := range strings.Split(headerValue(m, classify.DefaultLabelHeader), ",") {
			if label = strings.TrimSpace(label); label != "" {
				s.counter[reportLabels][label]++
			}
		}

		if classifier == nil {
			return nil
		}
		result, err := classifier.Classify(m)
		if err != nil {
			s.counter[reportReasons]["missing_category"]++
			return nil
		}
		s.counter[reportReasons][string(result.Reason)]++
		if result.Reason == classify.ReasonIncluded {
			s.included++
			groups.Add(result.Key, result.Record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, row := range dataset.Build(groups) {
		s.counter[reportCohorts][string(row.Cohort())]++
		s.counter[reportSenders][row.Sender] += row.Sent
	}
	return s, nil
}

func headerValue(m *mbox.RawMessage, key string) string {
	v, err := m.Header.Text(key)
	if err != nil {
		v = m.Header.Get(key)
	}
	return v
}

func printMailboxStats(w io.Writer, s *mailboxStats, topN int, classified bool) {
	fmt.Fprintf(w, "Processed %d messages (%d included)...\n\n", s.messages, s.included)

	names := append(append([]string(nil), headersToTrack...), reportLabels)
	if classified {
		names = append(names, reportReasons, reportCohorts, reportSenders)
	}
	for _, name := range names {
		fmt.Fprintf(w, "Top %d %s:\n", topN, name)
		stats.PrettyPrintTop(w, s.counter[name], topN)
		fmt.Fprintln(w)
	}
}

func saveCSVReports(counter map[string]map[string]int, names []string, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, name := range names {
		counts := counter[name]
		if len(counts) == 0 {
			continue
		}

		filename := fmt.Sprintf("report_%s.csv", normalizeReportName(name))
		if err := writeReport(filepath.Join(dir, filename), stats.Top(counts, limit)); err != nil {
			return err
		}
	}

	return nil
}

func writeReport(path string, pairs []stats.Pair) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"Value", "Count"}); err != nil {
		return err
	}
	for _, p := range pairs {
		if err := writer.Write([]string{p.Key, strconv.Itoa(p.Value)}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func normalizeReportName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}
