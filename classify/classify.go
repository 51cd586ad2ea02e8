package classify

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/dhcgn/mbox-finetune/mbox"
	"github.com/dhcgn/mbox-finetune/model"
)

const (
	DefaultLabelHeader     = "X-Gmail-Labels"
	DefaultCategoryPattern = `Category\s*([^,]+)(?:,|$)`
	DefaultOpenedMarker    = "Opened"
)

var (
	ErrMissingCategory = errors.New("label header has no Category token")
	ErrNoRecipients    = errors.New("at least one target recipient is required")
)

// Options captures the labeling rules. Zero-valued fields fall back to the
// Gmail Takeout defaults.
type Options struct {
	LabelHeader     string   `yaml:"label_header"`
	Exclude         []string `yaml:"exclude"`
	Include         []string `yaml:"include"`
	Recipients      []string `yaml:"recipients"`
	CategoryPattern string   `yaml:"category_pattern"`
	OpenedMarker    string   `yaml:"opened_marker"`
	ExcludeHeader   []string `yaml:"exclude_header"`
}

func DefaultOptions() Options {
	return Options{
		LabelHeader:     DefaultLabelHeader,
		Exclude:         []string{"Important", "Starred"},
		Include:         []string{"promotions", "updates"},
		CategoryPattern: DefaultCategoryPattern,
		OpenedMarker:    DefaultOpenedMarker,
	}
}

// Reason explains why a message was kept or dropped.
type Reason string

const (
	ReasonIncluded       Reason = "included"
	ReasonNoLabels       Reason = "no_labels"
	ReasonExcluded       Reason = "excluded_label"
	ReasonNotIncluded    Reason = "not_promotional"
	ReasonHeaderFilter   Reason = "header_filter"
	ReasonOtherRecipient Reason = "other_recipient"
)

// Result is the outcome of classifying one message. Key and Record are only
// set when Reason is ReasonIncluded.
type Result struct {
	Reason Reason
	Key    string
	Record *model.Record
}

// Classifier holds the compiled labeling rules.
type Classifier struct {
	labelHeader   string
	exclude       []string
	include       []string
	recipients    map[string]struct{}
	category      *regexp.Regexp
	openedMarker  string
	excludeHeader []*regexp.Regexp
}

// New creates a Classifier from opts after applying defaults.
func New(opts Options) (*Classifier, error) {
	def := DefaultOptions()
	if opts.LabelHeader == "" {
		opts.LabelHeader = def.LabelHeader
	}
	if opts.Exclude == nil {
		opts.Exclude = def.Exclude
	}
	if len(opts.Include) == 0 {
		opts.Include = def.Include
	}
	if opts.CategoryPattern == "" {
		opts.CategoryPattern = def.CategoryPattern
	}
	if opts.OpenedMarker == "" {
		opts.OpenedMarker = def.OpenedMarker
	}

	recipients := make(map[string]struct{}, len(opts.Recipients))
	for _, r := range opts.Recipients {
		if r = strings.TrimSpace(r); r != "" {
			recipients[r] = struct{}{}
		}
	}
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	category, err := regexp.Compile(opts.CategoryPattern)
	if err != nil {
		return nil, fmt.Errorf("compile category pattern: %w", err)
	}
	if category.NumSubexp() < 1 {
		return nil, fmt.Errorf("category pattern %q needs a capture group", opts.CategoryPattern)
	}
	excludeHeader, err := compilePatterns(opts.ExcludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-header pattern: %w", err)
	}

	return &Classifier{
		labelHeader:   opts.LabelHeader,
		exclude:       nonEmpty(opts.Exclude),
		include:       nonEmpty(opts.Include),
		recipients:    recipients,
		category:      category,
		openedMarker:  opts.OpenedMarker,
		excludeHeader: excludeHeader,
	}, nil
}

// Classify decides whether msg belongs in the engagement dataset and extracts
// its record. The checks run in a fixed order; the Category token is required
// before the recipient is looked at.
func (c *Classifier) Classify(msg *mbox.RawMessage) (Result, error) {
	h := msg.Header
	if !h.Has(c.labelHeader) {
		return Result{Reason: ReasonNoLabels}, nil
	}
	labels := headerText(h, c.labelHeader)

	if containsAny(labels, c.exclude) {
		return Result{Reason: ReasonExcluded}, nil
	}
	if !containsAny(labels, c.include) {
		return Result{Reason: ReasonNotIncluded}, nil
	}
	if len(c.excludeHeader) > 0 {
		header, _ := SplitRawMessage(msg.Raw)
		if matchAny(c.excludeHeader, string(header)) {
			return Result{Reason: ReasonHeaderFilter}, nil
		}
	}

	label, err := c.Label(labels)
	if err != nil {
		return Result{}, fmt.Errorf("message %d: %w", msg.Index, err)
	}

	from := senderKey(h)
	if _, ok := c.recipients[headerText(h, "Delivered-To")]; !ok {
		return Result{Reason: ReasonOtherRecipient}, nil
	}

	opened := 0
	if strings.Contains(labels, c.openedMarker) {
		opened = 1
	}

	return Result{
		Reason: ReasonIncluded,
		Key:    from,
		Record: &model.Record{
			SenderName: model.DisplayName(from),
			Subject:    headerText(h, "Subject"),
			Date:       headerText(h, "Date"),
			Opened:     opened,
			Label:      label,
		},
	}, nil
}

// Label extracts the category following the Category token.
func (c *Classifier) Label(labels string) (string, error) {
	m := c.category.FindStringSubmatch(labels)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrMissingCategory, labels)
	}
	label := strings.TrimSpace(m[1])
	if label == "" {
		return "", fmt.Errorf("%w: %q", ErrMissingCategory, labels)
	}
	return label, nil
}

var unfold = strings.NewReplacer("\r\n", "", "\n", "")

// headerText returns the decoded, unfolded header value. Values with an
// unknown charset are returned undecoded.
func headerText(h mail.Header, key string) string {
	v, err := h.Text(key)
	if err != nil {
		v = h.Get(key)
	}
	return unfold.Replace(v)
}

var quoteName = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// senderKey renders the From header canonically so that quoting variants of
// the same mailbox share one group. A From value that is not a single
// address is used as decoded.
func senderKey(h mail.Header) string {
	addrs, err := h.AddressList("From")
	if err != nil || len(addrs) != 1 {
		return headerText(h, "From")
	}
	a := addrs[0]
	if a.Name == "" {
		return a.Address
	}
	name := a.Name
	if strings.ContainsAny(name, `()<>[]:;@\,."`) {
		name = `"` + quoteName.Replace(name) + `"`
	}
	return name + " <" + a.Address + ">"
}

// SplitRawMessage splits a raw email message into header and body parts.
func SplitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}

	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}

	return raw, nil
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

func nonEmpty(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
