// Package dialog implements the dialog interception channel.
//
// The entry engine was written against one local interactive user: whenever
// it needs a modal decision it calls out and blocks until answered. In a
// headless process no one is there to answer, so every dialog is resolved
// immediately with a safe canned answer, and a record of what was asked is
// buffered for the client to replay out of band. The information is
// forwarded; the decision is not.
package dialog

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

// Dialog names with dedicated answer policies.
const (
	NameErrorMessage = "error-message"
	NameSelect       = "select"
)

// DefaultCapacity bounds a pending-dialog buffer. Pushing past it evicts the
// oldest record.
const DefaultCapacity = 10

// Record describes one intercepted dialog.
type Record struct {
	DialogName       string    `json:"dialogName"`
	InputData        any       `json:"inputData"`
	Timestamp        time.Time `json:"timestamp"`
	AutoAcknowledged bool      `json:"autoAcknowledged"`
}

// Buffer is a bounded FIFO of pending dialog records. Safe for concurrent
// use; each session owns one.
type Buffer struct {
	mu       sync.Mutex
	records  []Record
	capacity int
}

// NewBuffer creates a buffer holding at most capacity records.
// A capacity of 0 or less uses DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{capacity: capacity}
}

// Append adds a record, evicting the oldest when full.
func (b *Buffer) Append(r Record) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.records) >= b.capacity {
		b.records = append(b.records[1:], r)
		return
	}
	b.records = append(b.records, r)
}

// Drain returns all buffered records and clears the buffer.
func (b *Buffer) Drain() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.records
	b.records = nil
	return out
}

// Reset discards all buffered records.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = nil
}

// Len reports the number of buffered records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// SelectInput is the decoded payload of a "select" (value-set chooser)
// dialog. Clients re-present the choice from the buffered record.
type SelectInput struct {
	Title   string         `mapstructure:"title"`
	Options []SelectOption `mapstructure:"options"`
}

type SelectOption struct {
	Code  string `mapstructure:"code"`
	Label string `mapstructure:"label"`
}

// ParseSelect decodes a select dialog's input data. The input is whatever
// the engine sent, usually a map decoded from JSON.
func ParseSelect(input any) (*SelectInput, error) {
	var sel SelectInput
	if err := mapstructure.Decode(input, &sel); err != nil {
		return nil, err
	}
	return &sel, nil
}

// Canned answers. An acknowledgement presses the single affirmative
// affordance; a cancellation reports no selection so the engine continues
// without one.
var (
	answerAcknowledged = []byte(`{"result":"ok"}`)
	answerCancelled    = []byte(`{"result":"cancel"}`)
)

// Responder answers dialogs synchronously with canned answers and appends a
// record to the buffer routed through the call context. Records produced
// outside any operation window (engine startup) land in the fallback buffer
// so they are never dropped.
type Responder struct {
	log      *zap.Logger
	fallback *Buffer
	observe  func(dialogName string)
}

// Option configures a Responder.
type Option func(*Responder)

// WithLogger configures a logger for intercepted dialogs.
func WithLogger(log *zap.Logger) Option {
	return func(r *Responder) {
		r.log = log
	}
}

// WithObserver registers a hook invoked once per intercepted dialog.
func WithObserver(fn func(dialogName string)) Option {
	return func(r *Responder) {
		r.observe = fn
	}
}

// NewResponder creates a responder with a private fallback buffer.
func NewResponder(opts ...Option) *Responder {
	r := &Responder{
		log:      zap.NewNop(),
		fallback: NewBuffer(DefaultCapacity),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fallback returns the buffer catching records produced outside any
// operation window.
func (r *Responder) Fallback() *Buffer {
	return r.fallback
}

// Answer resolves one dialog. It never blocks and never fails: the engine
// must not stall inside a headless process.
func (r *Responder) Answer(ctx context.Context, dialogName string, rawInput []byte) []byte {
	input := parseInput(rawInput)

	var answer []byte
	switch dialogName {
	case NameErrorMessage:
		r.log.Warn("engine error message",
			zap.String("dialog", dialogName),
			zap.String("message", messageText(input)))
		answer = answerAcknowledged

	case NameSelect:
		if sel, err := ParseSelect(input); err == nil {
			r.log.Debug("select dialog cancelled",
				zap.String("title", sel.Title),
				zap.Int("options", len(sel.Options)))
		}
		answer = answerCancelled

	default:
		answer = answerAcknowledged
	}

	rec := Record{
		DialogName:       dialogName,
		InputData:        input,
		Timestamp:        time.Now().UTC(),
		AutoAcknowledged: true,
	}

	buf := BufferFrom(ctx)
	if buf == nil {
		buf = r.fallback
	}
	buf.Append(rec)

	if r.observe != nil {
		r.observe(dialogName)
	}

	return answer
}

// parseInput decodes the dialog input as JSON, falling back to the raw
// string when it does not parse.
func parseInput(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

// messageText pulls a human-readable message out of a parsed input payload.
func messageText(input any) string {
	switch v := input.(type) {
	case string:
		return v
	case map[string]any:
		for _, key := range []string{"message", "text", "title"} {
			if s, ok := v[key].(string); ok {
				return s
			}
		}
	}
	return ""
}
