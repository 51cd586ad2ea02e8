package mbox

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

// Delimiter opens every message of an mbox archive.
const Delimiter = "From "

var ErrFormatViolation = errors.New("mbox does not start with a \"From \" line")

var delimiter = []byte(Delimiter)

// HeaderError reports a message whose header block could not be parsed.
type HeaderError struct {
	Index int
	Err   error
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("message %d header: %v", e.Index, e.Err)
}

func (e *HeaderError) Unwrap() error {
	return e.Err
}

// RawMessage is the span between two delimiter lines.
type RawMessage struct {
	Index  int
	From   []byte // delimiter line including its line ending
	Raw    []byte // every line after the delimiter
	Header mail.Header
	Body   []byte
	// Err is set when the header block is malformed. Header then holds the
	// fields read before the offending line.
	Err error
}

// Bytes returns the original span of the archive.
func (m *RawMessage) Bytes() []byte {
	out := make([]byte, 0, len(m.From)+len(m.Raw))
	out = append(out, m.From...)
	return append(out, m.Raw...)
}

// Parser splits an mbox stream into messages on demand.
type Parser struct {
	r      *bufio.Reader
	closer io.Closer
	from   []byte
	eof    bool
	index  int
}

// NewParser validates the first line of r and returns a parser positioned
// at the first message.
func NewParser(r io.Reader) (*Parser, error) {
	br := bufio.NewReader(r)
	first, err := br.ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read first line: %w", err)
	}
	if !bytes.HasPrefix(first, delimiter) {
		return nil, ErrFormatViolation
	}
	return &Parser{r: br, from: first, eof: errors.Is(err, io.EOF)}, nil
}

// Open opens path for parsing. The caller must Close the parser.
func Open(path string) (*Parser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	p, err := NewParser(file)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p.closer = file
	return p, nil
}

// Next returns the next message or io.EOF once the archive is exhausted.
func (p *Parser) Next() (*RawMessage, error) {
	if p.from == nil {
		return nil, io.EOF
	}

	var buf bytes.Buffer
	for !p.eof {
		line, err := p.r.ReadBytes('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("message %d read: %w", p.index, err)
			}
			p.eof = true
		}
		if bytes.HasPrefix(line, delimiter) {
			msg := p.materialize(buf.Bytes())
			p.from = line
			return msg, nil
		}
		buf.Write(line)
	}

	msg := p.materialize(buf.Bytes())
	p.from = nil
	return msg, nil
}

// Close releases the underlying file. It is safe to call more than once.
func (p *Parser) Close() error {
	if p.closer == nil {
		return nil
	}
	err := p.closer.Close()
	p.closer = nil
	return err
}

func (p *Parser) materialize(raw []byte) *RawMessage {
	msg := &RawMessage{Index: p.index, From: p.from, Raw: raw}
	p.index++

	br := bufio.NewReader(bytes.NewReader(raw))
	header, err := textproto.ReadHeader(br)
	if err != nil && !errors.Is(err, io.EOF) {
		msg.Err = &HeaderError{Index: msg.Index, Err: err}
	}
	msg.Header = mail.Header{Header: message.Header{Header: header}}
	msg.Body, _ = io.ReadAll(br)
	return msg
}

// Read parses the archive at path and calls fn for every message. The file is
// closed on every return path.
func Read(ctx context.Context, path string, fn func(*RawMessage) error) error {
	p, err := Open(path)
	if err != nil {
		return err
	}
	defer p.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := p.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
}

// CountMessages counts the total number of messages in an mbox file.
func CountMessages(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()
	reader := mboxlib.NewReader(file)

	count := 0
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return 0, err
		}
		_, _ = io.Copy(io.Discard, msgReader)
		count++
	}
}

// Quarantine collects raw messages that could not be turned into records.
type Quarantine struct {
	file  *os.File
	w     *mboxlib.Writer
	count int
}

func NewQuarantine(path string) (*Quarantine, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create quarantine: %w", err)
	}
	return &Quarantine{file: file, w: mboxlib.NewWriter(file)}, nil
}

// Add appends msg, keeping the sender and date of its original delimiter line.
func (q *Quarantine) Add(msg *RawMessage) error {
	sender, date := parseDelimiter(msg.From)
	mw, err := q.w.CreateMessage(sender, date)
	if err != nil {
		return fmt.Errorf("quarantine message %d: %w", msg.Index, err)
	}
	if _, err := mw.Write(msg.Raw); err != nil {
		return fmt.Errorf("quarantine message %d: %w", msg.Index, err)
	}
	q.count++
	return nil
}

func (q *Quarantine) Count() int {
	return q.count
}

func (q *Quarantine) Close() error {
	var firstErr error
	if err := q.w.Close(); err != nil {
		firstErr = fmt.Errorf("flush quarantine: %w", err)
	}
	if err := q.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close quarantine: %w", err)
	}
	return firstErr
}

var delimiterDateLayouts = []string{
	"Mon Jan _2 15:04:05 -0700 2006",
	time.ANSIC,
}

func parseDelimiter(line []byte) (string, time.Time) {
	fields := strings.SplitN(strings.TrimSpace(strings.TrimPrefix(string(line), Delimiter)), " ", 2)
	sender := "MAILER-DAEMON"
	if fields[0] != "" {
		sender = fields[0]
	}
	if len(fields) == 2 {
		for _, layout := range delimiterDateLayouts {
			if t, err := time.Parse(layout, strings.TrimSpace(fields[1])); err == nil {
				return sender, t
			}
		}
	}
	return sender, time.Unix(0, 0).UTC()
}
