package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lherron/acctmigrate/internal/render"
)

// Reporter writes the operator-facing run narrative: section banners,
// per-record outcomes, stats tables and a progress line. Everything it
// prints is also logged so the log file holds the full story.
type Reporter struct {
	w        io.Writer
	log      Logger
	progress bool
}

// NewReporter creates a Reporter writing to w. A progress line is drawn only
// when w is a terminal.
func NewReporter(w io.Writer, log Logger) *Reporter {
	if log == nil {
		log = Discard()
	}
	f, ok := w.(*os.File)
	return &Reporter{w: w, log: log, progress: ok && isatty(f)}
}

// Logger returns the logger the reporter mirrors into.
func (r *Reporter) Logger() Logger {
	return r.log
}

// Section prints a top-level banner.
func (r *Reporter) Section(title string) {
	bar := strings.Repeat("=", len(title)+4)
	fmt.Fprintf(r.w, "\n%s\n  %s\n%s\n", bar, title, bar)
	r.log.Info(title)
}

// Subsection prints a secondary heading.
func (r *Reporter) Subsection(title string) {
	fmt.Fprintf(r.w, "\n-- %s --\n", title)
	r.log.Debug(title)
}

// Success reports a completed action.
func (r *Reporter) Success(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(r.w, "✓ %s\n", msg)
	r.log.Info(msg)
}

// Warning reports a recoverable problem.
func (r *Reporter) Warning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(r.w, "⚠ %s\n", msg)
	r.log.Warn(msg)
}

// Failure reports a failed action.
func (r *Reporter) Failure(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(r.w, "✗ %s\n", msg)
	r.log.Error(msg)
}

// Stats prints a titled table of labelled values.
func (r *Reporter) Stats(title string, stats []render.Stat) {
	if err := render.NewRenderer(r.w, render.Options{}).RenderStats(title, stats); err != nil {
		r.log.Warn("failed to render stats", "title", title, "error", err)
	}
}

// Progress tracks a counted loop.
type Progress struct {
	r     *Reporter
	label string
	total int
	done  int
}

// StartProgress begins a progress line for total items.
func (r *Reporter) StartProgress(total int, label string) *Progress {
	p := &Progress{r: r, label: label, total: total}
	p.draw("")
	return p
}

// Step advances the progress by one item.
func (p *Progress) Step(desc string) {
	p.done++
	p.draw(desc)
}

// Done clears the progress line.
func (p *Progress) Done() {
	if p.total > 0 {
		p.r.log.Debug("progress finished", "label", p.label, "done", p.done, "total", p.total)
	}
	if p.r.progress {
		fmt.Fprint(p.r.w, "\r\033[K")
	}
}

func (p *Progress) draw(desc string) {
	if !p.r.progress || p.total == 0 {
		return
	}
	pct := p.done * 100 / p.total
	fmt.Fprintf(p.r.w, "\r\033[K%s [%s] %d/%d %s", p.label, progressBar(pct, 20), p.done, p.total, desc)
}

// progressBar creates a simple progress bar
func progressBar(percent, width int) string {
	filled := percent * width / 100
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// isatty checks if the file descriptor is a terminal
func isatty(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}
