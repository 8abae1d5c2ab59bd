package observability

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jonathan/reel-forge/internal/checkpoint"
	"github.com/jonathan/reel-forge/internal/stage"
	"github.com/jonathan/reel-forge/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode
type Printer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len([]rune(line)) > boxWidth-4 {
			line = truncate(line, boxWidth-4)
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func statusIcon(s stage.Status, degraded bool) string {
	switch {
	case degraded:
		return "~"
	case s == stage.StatusCompleted:
		return "✓"
	case s == stage.StatusSkipped:
		return "»"
	case s == stage.StatusFailed:
		return "✗"
	default:
		return "…"
	}
}

// Emit prints one line per terminal stage transition, so a Printer can be
// used as a progress sink.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) Emit(_ context.Context, e Event) {
	if !e.Status.Terminal() {
		return
	}
	line := fmt.Sprintf("%s %-10s %-9s", statusIcon(e.Status, e.Degraded), e.StageID, e.Status)
	switch {
	case e.Restored:
		line += " (from checkpoint)"
	default:
		line += fmt.Sprintf(" attempt %d, %s", e.Attempt, time.Duration(e.DurationMs)*time.Millisecond)
	}
	if e.ErrorKind != "" {
		line += fmt.Sprintf(" [%s]", e.ErrorKind)
	}
	if e.Message != "" {
		line += " " + truncate(e.Message, 80)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, line)
}

// StageLine is one row of a run summary.
type StageLine struct {
	StageID   string
	Status    stage.Status
	Attempts  int
	Duration  time.Duration
	ErrorKind string
	Restored  bool
	Degraded  bool
}

// Summary describes a finished run.
type Summary struct {
	RunID    string
	Pipeline string
	Outcome  string
	Stages   []StageLine
}

// PrintRunSummary outputs the per-stage outcome of a run.
func (p *Printer) PrintRunSummary(s Summary) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Run:      %s\n", s.RunID))
	sb.WriteString(fmt.Sprintf("Pipeline: %s\n", s.Pipeline))
	sb.WriteString(fmt.Sprintf("Outcome:  %s\n", s.Outcome))
	if len(s.Stages) > 0 {
		sb.WriteString("\n")
	}
	for _, st := range s.Stages {
		sb.WriteString(fmt.Sprintf("%s %-10s %-9s", statusIcon(st.Status, st.Degraded), st.StageID, st.Status))
		switch {
		case st.Restored:
			sb.WriteString(" restored")
		case st.Attempts > 0:
			sb.WriteString(fmt.Sprintf(" x%d %s", st.Attempts, st.Duration.Round(time.Millisecond)))
		}
		if st.ErrorKind != "" {
			sb.WriteString(fmt.Sprintf(" [%s]", st.ErrorKind))
		}
		sb.WriteString("\n")
	}
	p.printBox("RUN SUMMARY", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintCheckpoints outputs the checkpoint entries of a run.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintCheckpoints(runID string, entries []checkpoint.Entry) {
	if len(entries) == 0 {
		fmt.Fprintf(p.out, "┌%s┐\n", strings.Repeat("─", boxWidth-2))
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, "NO CHECKPOINTS FOR "+truncate(runID, boxWidth-24))
		fmt.Fprintf(p.out, "└%s┘\n", strings.Repeat("─", boxWidth-2))
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Run: %s\n\n", runID))
	for _, e := range entries {
		sb.WriteString(fmt.Sprintf("%s %-10s %-9s v%d x%d %s\n",
			statusIcon(e.Status, e.Degraded), e.StageID, e.Status, e.StageVersion, e.Attempts,
			e.CompletedAt.Format(time.RFC3339)))
		if e.ErrorMessage != "" {
			sb.WriteString(fmt.Sprintf("  %s\n", e.ErrorMessage))
		}
	}
	p.printBox("CHECKPOINTS", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintScript outputs the scenes of a generated script.
func (p *Printer) PrintScript(script *types.Script) {
	if script == nil || len(script.Scenes) == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Title: %s\n", script.Idea.Title))
	sb.WriteString(fmt.Sprintf("Hook:  %s\n\n", script.Idea.Hook))

	count := min(len(script.Scenes), maxItemsToShow)
	for i := 0; i < count; i++ {
		scene := script.Scenes[i]
		sb.WriteString(fmt.Sprintf("#%d  %s\n", scene.Index+1, scene.Narration))
	}
	if len(script.Scenes) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("\n... and %d more scenes", len(script.Scenes)-maxItemsToShow))
	}

	p.printBox("SCRIPT", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintRelease outputs where the exported video ended up.
func (p *Printer) PrintRelease(release *types.Release) {
	if release == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Title:  %s\n", release.Render.Storyboard.Captioned.Narration.Script.Idea.Title))
	sb.WriteString(fmt.Sprintf("Object: %s\n", release.ObjectKey))
	if release.URL != "" {
		sb.WriteString(fmt.Sprintf("URL:    %s\n", release.URL))
	}
	if release.Size > 0 {
		sb.WriteString(fmt.Sprintf("Size:   %d bytes\n", release.Size))
	}
	p.printBox("RELEASE", strings.TrimSuffix(sb.String(), "\n"))
}
