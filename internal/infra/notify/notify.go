// Package notify provides core.Notifier implementations.
package notify

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"crmcore/internal/core"
)

var (
	_ core.Notifier = (*Log)(nil)
	_ core.Notifier = (*Console)(nil)
	_ core.Notifier = (*Recorder)(nil)
	_ core.Notifier = Multi(nil)
)

// Log forwards notifications to a logger: successes at info, errors at warn.
type Log struct {
	logger core.Logger
}

// NewLog wraps logger.
func NewLog(logger core.Logger) *Log { return &Log{logger: logger} }

func (n *Log) Success(message string) { n.logger.Info("notification", "level", "success", "message", message) }
func (n *Log) Error(message string)   { n.logger.Warn("notification", "level", "error", "message", message) }

// Console prints notifications as colored lines.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	success *color.Color
	failure *color.Color
}

// NewConsole writes to out. Color is disabled when noColor is set or out is
// not a terminal (fatih/color checks stdout).
func NewConsole(out io.Writer, noColor bool) *Console {
	c := &Console{
		out:     out,
		success: color.New(color.FgGreen),
		failure: color.New(color.FgRed, color.Bold),
	}
	if noColor {
		c.success.DisableColor()
		c.failure.DisableColor()
	}
	return c
}

func (c *Console) Success(message string) { c.print(c.success, "✓", message) }
func (c *Console) Error(message string)   { c.print(c.failure, "✗", message) }

func (c *Console) print(col *color.Color, mark, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintln(c.out, col.Sprintf("%s %s", mark, message))
}

// Message is one recorded notification.
type Message struct {
	Error bool
	Text  string
}

// Recorder keeps every notification in order.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Success(message string) { r.add(Message{Text: message}) }
func (r *Recorder) Error(message string)   { r.add(Message{Error: true, Text: message}) }

func (r *Recorder) add(m Message) {
	r.mu.Lock()
	r.messages = append(r.messages, m)
	r.mu.Unlock()
}

// Messages returns a copy of the recorded notifications.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Errors returns the text of recorded error notifications.
func (r *Recorder) Errors() []string {
	var out []string
	for _, m := range r.Messages() {
		if m.Error {
			out = append(out, m.Text)
		}
	}
	return out
}

// Multi fans notifications out to several notifiers.
type Multi []core.Notifier

func (m Multi) Success(message string) {
	for _, n := range m {
		n.Success(message)
	}
}

func (m Multi) Error(message string) {
	for _, n := range m {
		n.Error(message)
	}
}
