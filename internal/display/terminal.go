package display

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Terminal prints a one-line status. On a TTY the line is redrawn in
// place every render; otherwise a line is written only when something
// other than the remaining time changes.
type Terminal struct {
	out  io.Writer
	tty  bool
	last string

	green  *color.Color
	red    *color.Color
	yellow *color.Color
	faint  *color.Color
}

// NewTerminal writes to out. Colour is used only when enabled and out is
// a terminal.
func NewTerminal(out io.Writer, enableColor bool) *Terminal {
	tty := false
	if f, ok := out.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	t := &Terminal{
		out:    out,
		tty:    tty,
		green:  color.New(color.FgGreen, color.Bold),
		red:    color.New(color.FgRed, color.Bold),
		yellow: color.New(color.FgYellow),
		faint:  color.New(color.Faint),
	}

	for _, c := range []*color.Color{t.green, t.red, t.yellow, t.faint} {
		if enableColor && tty {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return t
}

// Render prints the snapshot.
func (t *Terminal) Render(s Snapshot) {
	if t.tty {
		_, _ = fmt.Fprintf(t.out, "\r\033[K%s", t.format(s, true))
		return
	}

	line := t.format(s, false)
	if line == t.last {
		return
	}
	t.last = line
	_, _ = fmt.Fprintln(t.out, line)
}

func (t *Terminal) format(s Snapshot, withRemaining bool) string {
	var b strings.Builder

	label := strings.ToUpper(s.Status)
	switch s.Status {
	case "waiting":
		b.WriteString(t.red.Sprintf("[%s]", label))
	default:
		b.WriteString(t.green.Sprintf("[%s]", label))
	}

	if s.ResetAt != nil && s.Status == "waiting" {
		if withRemaining {
			fmt.Fprintf(&b, " %s", s.RemainingText)
		}
		fmt.Fprintf(&b, " until %s", s.ResetAt.Local().Format("15:04"))
	}

	if s.Mode == "poll" {
		fmt.Fprintf(&b, " | session %s weekly %s", formatWindow(s.Session), formatWindow(s.Weekly))
	}

	if s.ContactTarget != "" {
		b.WriteString(t.faint.Sprintf(" -> %s", s.ContactTarget))
	}
	if s.Error != "" {
		b.WriteString(t.yellow.Sprintf(" ! %s", s.Error))
	}
	if s.Warning != "" {
		b.WriteString(t.yellow.Sprintf(" ! %s", s.Warning))
	}

	return b.String()
}

func formatWindow(w *Window) string {
	if w == nil {
		return "--"
	}
	return fmt.Sprintf("%.0f%%", w.Utilization)
}
