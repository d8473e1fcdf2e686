package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// JSONLines writes one compact JSON document per line.
type JSONLines struct {
	mu sync.Mutex
	w  io.Writer
}

func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{w: w}
}

func (j *JSONLines) Emit(_ context.Context, msg Message) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(msg.Value); err != nil {
		return fmt.Errorf("encode value: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write value: %w", err)
	}
	return nil
}

// Pretty writes indented JSON prefixed with the receive time. Colors are used
// only when the writer is a terminal.
type Pretty struct {
	mu        sync.Mutex
	w         io.Writer
	timestamp *color.Color
	value     *color.Color
}

func NewPretty(w io.Writer) *Pretty {
	p := &Pretty{
		w:         w,
		timestamp: color.New(color.Faint),
		value:     color.New(color.FgCyan),
	}
	if !isTerminal(w) {
		p.timestamp.DisableColor()
		p.value.DisableColor()
	}
	return p
}

func (p *Pretty) Emit(_ context.Context, msg Message) error {
	b, err := json.MarshalIndent(msg.Value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}
	ts := msg.ReceivedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.timestamp.Fprintf(p.w, "[%s]\n", ts.Format("15:04:05.000")); err != nil {
		return fmt.Errorf("write value: %w", err)
	}
	if _, err := p.value.Fprintln(p.w, string(b)); err != nil {
		return fmt.Errorf("write value: %w", err)
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
