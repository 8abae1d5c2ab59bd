package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jonathan/reel-forge/internal/checkpoint"
	"github.com/jonathan/reel-forge/internal/fault"
	"github.com/jonathan/reel-forge/internal/stage"
	"github.com/jonathan/reel-forge/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestPrinter_Emit(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	ctx := context.Background()

	p.Emit(ctx, Event{StageID: "idea", Status: stage.StatusRunning, Attempt: 1})
	assert.Empty(t, buf.String(), "running events are not printed")

	p.Emit(ctx, Event{StageID: "voice", Status: stage.StatusCompleted, Attempt: 3, DurationMs: 1500})
	p.Emit(ctx, Event{StageID: "script", Status: stage.StatusSkipped, Restored: true})
	p.Emit(ctx, Event{StageID: "video", Status: stage.StatusFailed, Attempt: 1, ErrorKind: fault.KindFatal, Message: "bad request"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[0], "✓ voice")
	assert.Contains(t, lines[0], "attempt 3, 1.5s")
	assert.Contains(t, lines[1], "from checkpoint")
	assert.Contains(t, lines[2], "✗ video")
	assert.Contains(t, lines[2], "[fatal] bad request")
}

func TestPrintRunSummary(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintRunSummary(Summary{
		RunID:    "run-1",
		Pipeline: "shorts",
		Outcome:  "completed",
		Stages: []StageLine{
			{StageID: "idea", Status: stage.StatusSkipped, Restored: true},
			{StageID: "subtitles", Status: stage.StatusCompleted, Attempts: 3, Duration: 2 * time.Second, ErrorKind: "transient", Degraded: true},
		},
	})
	output := buf.String()

	assert.Contains(t, output, "RUN SUMMARY")
	assert.Contains(t, output, "run-1")
	assert.Contains(t, output, "idea")
	assert.Contains(t, output, "restored")
	assert.Contains(t, output, "~ subtitles")
	assert.Contains(t, output, "x3 2s [transient]")
}

func TestPrintCheckpoints(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintCheckpoints("run-1", []checkpoint.Entry{
		{StageID: "idea", Status: stage.StatusCompleted, Attempts: 1, StageVersion: 1, CompletedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		{StageID: "vision", Status: stage.StatusSkipped, Attempts: 2, ErrorMessage: "model overloaded"},
	})
	output := buf.String()

	assert.Contains(t, output, "CHECKPOINTS")
	assert.Contains(t, output, "2026-01-02T03:04:05Z")
	assert.Contains(t, output, "» vision")
	assert.Contains(t, output, "model overloaded")
}

func TestPrintCheckpoints_Empty(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintCheckpoints("run-9", nil)
	assert.Contains(t, buf.String(), "NO CHECKPOINTS FOR run-9")
}

func TestPrintScript(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	script := &types.Script{
		Idea: types.Idea{Title: "Why volcanoes erupt", Hook: "Magma is impatient"},
	}
	for i := 0; i < 7; i++ {
		script.Scenes = append(script.Scenes, types.Scene{Index: i, Narration: "scene text", ImagePrompt: "lava"})
	}

	p.PrintScript(script)
	output := buf.String()

	assert.Contains(t, output, "SCRIPT")
	assert.Contains(t, output, "Why volcanoes erupt")
	assert.Contains(t, output, "#5  scene text")
	assert.NotContains(t, output, "#6 ")
	assert.Contains(t, output, "... and 2 more scenes")
}

func TestPrintScript_Nil(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintScript(nil)
	assert.Empty(t, buf.String())
}

func TestPrintRelease(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	release := &types.Release{ObjectKey: "shorts/run-1.mp4", URL: "https://cdn.example.com/shorts/run-1.mp4", Size: 2048}
	release.Render.Storyboard.Captioned.Narration.Script.Idea.Title = "Comets"
	p.PrintRelease(release)
	output := buf.String()

	assert.Contains(t, output, "RELEASE")
	assert.Contains(t, output, "Comets")
	assert.Contains(t, output, "shorts/run-1.mp4")
	assert.Contains(t, output, "2048 bytes")
}

func TestPrintBox_TruncatesLongLines(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	p.printBox("T", strings.Repeat("x", 200))
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		assert.LessOrEqual(t, len([]rune(line)), boxWidth)
	}
	assert.Contains(t, buf.String(), "...")
}
