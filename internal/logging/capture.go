package logging

import (
	"fmt"
	"strings"
	"sync"
)

// Entry is a single captured log call.
type Entry struct {
	Level  string
	Module string
	Msg    string
	Attrs  map[string]any
}

// String renders the entry as "level module: msg key=value ...".
func (e Entry) String() string {
	var b strings.Builder
	b.WriteString(e.Level)
	if e.Module != "" {
		b.WriteString(" " + e.Module)
	}
	b.WriteString(": " + e.Msg)
	for k, v := range e.Attrs {
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	return b.String()
}

type captureSink struct {
	mu      sync.Mutex
	entries []Entry
}

// Capture is an in-memory Logger for tests.
type Capture struct {
	sink   *captureSink
	module string
	attrs  []any
}

// NewCapture returns an empty Capture.
func NewCapture() *Capture {
	return &Capture{sink: &captureSink{}}
}

func (c *Capture) Debug(msg string, args ...any) { c.record("debug", msg, args) }
func (c *Capture) Info(msg string, args ...any)  { c.record("info", msg, args) }
func (c *Capture) Warn(msg string, args ...any)  { c.record("warn", msg, args) }
func (c *Capture) Error(msg string, args ...any) { c.record("error", msg, args) }

func (c *Capture) Module(name string) Logger {
	module := name
	if c.module != "" {
		module = c.module + "." + name
	}
	return &Capture{sink: c.sink, module: module, attrs: c.attrs}
}

func (c *Capture) With(args ...any) Logger {
	attrs := append(append([]any{}, c.attrs...), args...)
	return &Capture{sink: c.sink, module: c.module, attrs: attrs}
}

// Entries returns a copy of everything captured so far, across all modules.
func (c *Capture) Entries() []Entry {
	c.sink.mu.Lock()
	defer c.sink.mu.Unlock()
	return append([]Entry(nil), c.sink.entries...)
}

// Filter returns captured entries at the given level.
func (c *Capture) Filter(level string) []Entry {
	var out []Entry
	for _, e := range c.Entries() {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

// Contains reports whether any entry at level has a message containing substr.
func (c *Capture) Contains(level, substr string) bool {
	for _, e := range c.Filter(level) {
		if strings.Contains(e.Msg, substr) {
			return true
		}
	}
	return false
}

func (c *Capture) record(level, msg string, args []any) {
	attrs := make(map[string]any)
	all := append(append([]any{}, c.attrs...), args...)
	for i := 0; i+1 < len(all); i += 2 {
		attrs[fmt.Sprint(all[i])] = all[i+1]
	}
	c.sink.mu.Lock()
	c.sink.entries = append(c.sink.entries, Entry{Level: level, Module: c.module, Msg: msg, Attrs: attrs})
	c.sink.mu.Unlock()
}
