package snapshot

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/seantiz/taskloop/internal/model"
)

// Console writes each snapshot as an aligned, colored table.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole creates a console sink writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	statusColor = map[string]*color.Color{
		string(model.StatusPending):   color.New(color.FgWhite),
		string(model.StatusRunning):   color.New(color.FgBlue),
		string(model.StatusCompleted): color.New(color.FgGreen),
		string(model.StatusFailed):    color.New(color.FgRed),
		string(model.StatusCancelled): color.New(color.FgYellow),
		string(model.StatusTimedOut):  color.New(color.FgMagenta),
	}
)

// Write renders rows to the console.
func (c *Console) Write(_ context.Context, rows []Row) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	widths := make([]int, len(Header))
	for i, h := range Header {
		widths[i] = len(h)
	}
	for _, r := range rows {
		for i, cell := range r.Values() {
			widths[i] = max(widths[i], len(cell))
		}
	}

	var b strings.Builder
	for i, h := range Header {
		headerColor.Fprintf(&b, "%-*s  ", widths[i], h)
	}
	b.WriteString("\n")
	for i := range Header {
		b.WriteString(strings.Repeat("-", widths[i]))
		b.WriteString("  ")
	}
	b.WriteString("\n")
	for _, r := range rows {
		for i, cell := range r.Values() {
			if i == 1 {
				if sc, ok := statusColor[cell]; ok {
					sc.Fprintf(&b, "%-*s  ", widths[i], cell)
					continue
				}
			}
			fmt.Fprintf(&b, "%-*s  ", widths[i], cell)
		}
		b.WriteString("\n")
	}

	_, err := io.WriteString(c.w, b.String())
	return err
}
