// Package console renders peer traffic on a terminal.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// NoticePrefix marks presence notices from the relay.
const NoticePrefix = "[notice] "

// Printer writes chat frames, presence notices and status lines to w, one
// per line. It is safe for concurrent use.
type Printer struct {
	mu sync.Mutex
	w  io.Writer

	name   lipgloss.Style
	notice lipgloss.Style
	info   lipgloss.Style
}

// New creates a Printer. Colours are dropped when w is not a terminal.
func New(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w:      w,
		name:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		notice: r.NewStyle().Foreground(lipgloss.Color("241")),
		info:   r.NewStyle().Foreground(lipgloss.Color("42")),
	}
}

// Chat prints a broadcast frame, highlighting the sender name when the
// frame has one.
func (p *Printer) Chat(text string) {
	if name, msg, ok := strings.Cut(text, ": "); ok && name != "" {
		text = p.name.Render(name) + ": " + msg
	}
	p.println(text)
}

// Notice prints a presence notice.
func (p *Printer) Notice(text string) {
	p.println(p.notice.Render(NoticePrefix + text))
}

// Info prints a local status line.
func (p *Printer) Info(text string) {
	p.println(p.info.Render(text))
}

func (p *Printer) println(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, s)
}
