package dialog

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
)

func TestBuffer_AppendAndDrain(t *testing.T) {
	b := NewBuffer(DefaultCapacity)

	b.Append(Record{DialogName: "a"})
	b.Append(Record{DialogName: "b"})

	if b.Len() != 2 {
		t.Fatalf("Len = %d, want 2", b.Len())
	}

	recs := b.Drain()
	if len(recs) != 2 {
		t.Fatalf("drained %d records, want 2", len(recs))
	}
	if recs[0].DialogName != "a" || recs[1].DialogName != "b" {
		t.Errorf("drain order wrong: %v", recs)
	}

	if b.Len() != 0 {
		t.Error("buffer should be empty after drain")
	}
	if got := b.Drain(); len(got) != 0 {
		t.Errorf("second drain returned %d records", len(got))
	}
}

func TestBuffer_EvictsOldestPastCapacity(t *testing.T) {
	b := NewBuffer(DefaultCapacity)

	for i := 0; i < DefaultCapacity+1; i++ {
		b.Append(Record{DialogName: fmt.Sprintf("d%d", i)})
	}

	if b.Len() != DefaultCapacity {
		t.Fatalf("Len = %d, want %d", b.Len(), DefaultCapacity)
	}

	recs := b.Drain()
	if recs[0].DialogName != "d1" {
		t.Errorf("oldest record = %q, want d1 (d0 evicted)", recs[0].DialogName)
	}
	if recs[len(recs)-1].DialogName != fmt.Sprintf("d%d", DefaultCapacity) {
		t.Errorf("newest record = %q", recs[len(recs)-1].DialogName)
	}
}

func TestBuffer_Reset(t *testing.T) {
	b := NewBuffer(3)
	b.Append(Record{DialogName: "x"})
	b.Reset()

	if b.Len() != 0 {
		t.Error("buffer should be empty after reset")
	}
}

func TestBuffer_DefaultCapacity(t *testing.T) {
	b := NewBuffer(0)
	for i := 0; i < DefaultCapacity*2; i++ {
		b.Append(Record{})
	}
	if b.Len() != DefaultCapacity {
		t.Errorf("Len = %d, want %d", b.Len(), DefaultCapacity)
	}
}

func TestResponder_ErrorMessageAcknowledged(t *testing.T) {
	r := NewResponder()
	buf := NewBuffer(DefaultCapacity)
	ctx := WithBuffer(context.Background(), buf)

	answer := r.Answer(ctx, NameErrorMessage, []byte(`{"message":"value out of range"}`))

	var decoded map[string]string
	if err := json.Unmarshal(answer, &decoded); err != nil {
		t.Fatalf("answer is not JSON: %v", err)
	}
	if decoded["result"] != "ok" {
		t.Errorf("result = %q, want ok", decoded["result"])
	}

	recs := buf.Drain()
	if len(recs) != 1 {
		t.Fatalf("buffered %d records, want 1", len(recs))
	}
	rec := recs[0]
	if rec.DialogName != NameErrorMessage {
		t.Errorf("DialogName = %q", rec.DialogName)
	}
	if !rec.AutoAcknowledged {
		t.Error("AutoAcknowledged should be true")
	}
	if rec.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
	m, ok := rec.InputData.(map[string]any)
	if !ok {
		t.Fatalf("InputData = %T, want map", rec.InputData)
	}
	if m["message"] != "value out of range" {
		t.Errorf("InputData message = %v", m["message"])
	}
}

func TestResponder_SelectCancelled(t *testing.T) {
	r := NewResponder()
	buf := NewBuffer(DefaultCapacity)
	ctx := WithBuffer(context.Background(), buf)

	input := `{"title":"Choose region","options":[{"code":"1","label":"North"},{"code":"2","label":"South"}]}`
	answer := r.Answer(ctx, NameSelect, []byte(input))

	var decoded map[string]string
	if err := json.Unmarshal(answer, &decoded); err != nil {
		t.Fatalf("answer is not JSON: %v", err)
	}
	if decoded["result"] != "cancel" {
		t.Errorf("result = %q, want cancel", decoded["result"])
	}

	recs := buf.Drain()
	if len(recs) != 1 {
		t.Fatalf("buffered %d records, want 1", len(recs))
	}

	sel, err := ParseSelect(recs[0].InputData)
	if err != nil {
		t.Fatalf("ParseSelect: %v", err)
	}
	if sel.Title != "Choose region" {
		t.Errorf("Title = %q", sel.Title)
	}
	if len(sel.Options) != 2 || sel.Options[1].Label != "South" {
		t.Errorf("Options = %+v", sel.Options)
	}
}

func TestResponder_UnknownDialogAcknowledged(t *testing.T) {
	r := NewResponder()
	buf := NewBuffer(DefaultCapacity)
	ctx := WithBuffer(context.Background(), buf)

	answer := r.Answer(ctx, "progress", []byte(`{"percent":50}`))
	if string(answer) != `{"result":"ok"}` {
		t.Errorf("answer = %s", answer)
	}
	if buf.Len() != 1 {
		t.Errorf("buffered %d records, want 1", buf.Len())
	}
}

func TestResponder_RawStringFallback(t *testing.T) {
	r := NewResponder()
	buf := NewBuffer(DefaultCapacity)
	ctx := WithBuffer(context.Background(), buf)

	r.Answer(ctx, NameErrorMessage, []byte("not json at all"))

	recs := buf.Drain()
	if len(recs) != 1 {
		t.Fatalf("buffered %d records, want 1", len(recs))
	}
	s, ok := recs[0].InputData.(string)
	if !ok || s != "not json at all" {
		t.Errorf("InputData = %#v, want raw string", recs[0].InputData)
	}
}

func TestResponder_FallbackBufferWithoutContext(t *testing.T) {
	r := NewResponder()

	r.Answer(context.Background(), "startup-notice", nil)

	if r.Fallback().Len() != 1 {
		t.Errorf("fallback buffered %d records, want 1", r.Fallback().Len())
	}
}

func TestResponder_Observer(t *testing.T) {
	var seen []string
	r := NewResponder(WithObserver(func(name string) {
		seen = append(seen, name)
	}))
	buf := NewBuffer(DefaultCapacity)
	ctx := WithBuffer(context.Background(), buf)

	r.Answer(ctx, NameSelect, nil)
	r.Answer(ctx, NameErrorMessage, nil)

	if len(seen) != 2 || seen[0] != NameSelect || seen[1] != NameErrorMessage {
		t.Errorf("observed = %v", seen)
	}
}

func TestBufferFrom_EmptyContext(t *testing.T) {
	if BufferFrom(context.Background()) != nil {
		t.Error("BufferFrom should return nil for empty context")
	}
}

func TestMessageText(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"string input", "plain message", "plain message"},
		{"message key", map[string]any{"message": "m"}, "m"},
		{"text key", map[string]any{"text": "t"}, "t"},
		{"title key", map[string]any{"title": "ti"}, "ti"},
		{"no keys", map[string]any{"other": 1}, ""},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := messageText(tt.input); got != tt.want {
				t.Errorf("messageText(%v) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
