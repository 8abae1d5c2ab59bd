package stages

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jonathan/reel-forge/internal/fault"
	"github.com/jonathan/reel-forge/internal/llm"
	"github.com/jonathan/reel-forge/internal/prompts"
	"github.com/jonathan/reel-forge/internal/stage"
	"github.com/jonathan/reel-forge/internal/types"
)

// wordsPerSecond is the narration pace used to size scripts.
const wordsPerSecond = 2.5

// Source fills Brief.SourceText from Brief.SourceURL. Briefs that already carry
// text or have no URL pass through unchanged.
func Source(f SourceFetcher, maxChars int) *stage.Typed[types.Brief, types.Brief] {
	desc := stage.Descriptor{
		ID:         IDSource,
		Name:       "Fetch source article",
		Version:    1,
		InputType:  types.TagBrief,
		OutputType: types.TagBrief,
		Dependency: DepWeb,
		Idempotent: true,
	}
	return stage.New(desc, func(ctx context.Context, b types.Brief) (types.Brief, error) {
		if b.SourceURL == "" || b.SourceText != "" {
			return b, nil
		}
		res, err := f.Article(ctx, b.SourceURL)
		if err != nil {
			return types.Brief{}, err
		}
		text := strings.TrimSpace(res.Text)
		if text == "" {
			return types.Brief{}, fault.Fatal(fmt.Errorf("no readable text at %s", b.SourceURL))
		}
		b.SourceText = truncateRunes(text, maxChars)
		return b, nil
	}).WithSchema("brief")
}

type ideaResponse struct {
	Title string `json:"title"`
	Hook  string `json:"hook"`
	Angle string `json:"angle"`
}

// Idea asks the writer for a title, hook and angle.
func Idea(w Writer) *stage.Typed[types.Brief, types.Idea] {
	desc := stage.Descriptor{
		ID:         IDIdea,
		Name:       "Generate idea",
		Version:    1,
		InputType:  types.TagBrief,
		OutputType: types.TagIdea,
		Dependency: DepLLM,
		Idempotent: true,
	}
	return stage.New(desc, func(ctx context.Context, b types.Brief) (types.Idea, error) {
		source := ""
		if b.SourceText != "" {
			var err error
			source, err = prompts.Render(promptFile, "idea-source", map[string]string{"Text": b.SourceText})
			if err != nil {
				return types.Idea{}, fault.Fatal(err)
			}
		}
		prompt, err := prompts.Render(promptFile, "idea", map[string]string{
			"Topic":    b.Topic,
			"Audience": orDefault(b.Audience, "general"),
			"Language": orDefault(b.Language, "en"),
			"Duration": strconv.Itoa(b.TargetDuration()),
			"Source":   source,
		})
		if err != nil {
			return types.Idea{}, fault.Fatal(err)
		}

		var resp ideaResponse
		if err := llm.GenerateInto(ctx, w, prompt, llm.TierStandard, &resp); err != nil {
			return types.Idea{}, err
		}
		if strings.TrimSpace(resp.Title) == "" || strings.TrimSpace(resp.Hook) == "" {
			return types.Idea{}, fault.Transient(fmt.Errorf("idea response missing title or hook"))
		}
		return types.Idea{Brief: b, Title: strings.TrimSpace(resp.Title), Hook: strings.TrimSpace(resp.Hook), Angle: strings.TrimSpace(resp.Angle)}, nil
	}).WithSchema("brief")
}

type scriptResponse struct {
	Scenes []struct {
		Narration   string  `json:"narration"`
		ImagePrompt string  `json:"image_prompt"`
		DurationSec float64 `json:"duration_sec"`
	} `json:"scenes"`
}

// Script asks the writer for scene-by-scene narration.
func Script(w Writer) *stage.Typed[types.Idea, types.Script] {
	desc := stage.Descriptor{
		ID:         IDScript,
		Name:       "Write script",
		Version:    1,
		InputType:  types.TagIdea,
		OutputType: types.TagScript,
		Dependency: DepLLM,
		Idempotent: true,
	}
	return stage.New(desc, func(ctx context.Context, idea types.Idea) (types.Script, error) {
		duration := idea.Brief.TargetDuration()
		prompt, err := prompts.Render(promptFile, "script", map[string]string{
			"Title":    idea.Title,
			"Hook":     idea.Hook,
			"Angle":    orDefault(idea.Angle, "none"),
			"Language": orDefault(idea.Brief.Language, "en"),
			"Duration": strconv.Itoa(duration),
			"Words":    strconv.Itoa(int(float64(duration) * wordsPerSecond)),
			"Scenes":   strconv.Itoa(SceneCount(duration)),
		})
		if err != nil {
			return types.Script{}, fault.Fatal(err)
		}

		var resp scriptResponse
		if err := llm.GenerateInto(ctx, w, prompt, llm.TierStandard, &resp); err != nil {
			return types.Script{}, err
		}
		if len(resp.Scenes) == 0 {
			return types.Script{}, fault.Transient(fmt.Errorf("script response has no scenes"))
		}
		script := types.Script{Idea: idea, Scenes: make([]types.Scene, 0, len(resp.Scenes))}
		for i, sc := range resp.Scenes {
			if strings.TrimSpace(sc.Narration) == "" || strings.TrimSpace(sc.ImagePrompt) == "" {
				return types.Script{}, fault.Transient(fmt.Errorf("script scene %d is incomplete", i))
			}
			script.Scenes = append(script.Scenes, types.Scene{
				Index:       i,
				Narration:   strings.TrimSpace(sc.Narration),
				ImagePrompt: strings.TrimSpace(sc.ImagePrompt),
				DurationSec: max(sc.DurationSec, 0),
			})
		}
		return script, nil
	}).WithCheck(func(idea types.Idea) error {
		if len([]rune(idea.Title)) > 200 {
			return fmt.Errorf("title is longer than 200 characters")
		}
		return nil
	})
}

type visionResponse struct {
	Guidance []string `json:"guidance"`
}

// Vision adds art direction to every scene. It is optional: the pipeline
// skips it on failure and the images stage works without guidance.
func Vision(w Writer) *stage.Typed[types.Script, types.Script] {
	desc := stage.Descriptor{
		ID:         IDVision,
		Name:       "Visual guidance",
		Version:    1,
		InputType:  types.TagScript,
		OutputType: types.TagScript,
		Dependency: DepLLM,
		Idempotent: true,
	}
	return stage.New(desc, func(ctx context.Context, s types.Script) (types.Script, error) {
		var scenes strings.Builder
		for _, sc := range s.Scenes {
			fmt.Fprintf(&scenes, "%d. %s\n", sc.Index+1, sc.ImagePrompt)
		}
		prompt, err := prompts.Render(promptFile, "vision", map[string]string{
			"Title":  s.Idea.Title,
			"Scenes": scenes.String(),
			"Count":  strconv.Itoa(len(s.Scenes)),
		})
		if err != nil {
			return types.Script{}, fault.Fatal(err)
		}

		var resp visionResponse
		if err := llm.GenerateInto(ctx, w, prompt, llm.TierLite, &resp); err != nil {
			return types.Script{}, err
		}
		if len(resp.Guidance) != len(s.Scenes) {
			return types.Script{}, fault.Transient(fmt.Errorf("vision returned %d guidance lines for %d scenes", len(resp.Guidance), len(s.Scenes)))
		}
		out := s
		out.Scenes = make([]types.Scene, len(s.Scenes))
		for i, sc := range s.Scenes {
			sc.Guidance = strings.TrimSpace(resp.Guidance[i])
			out.Scenes[i] = sc
		}
		return out, nil
	}).WithSchema("script")
}

// SceneCount is the number of scenes requested for a target duration.
func SceneCount(durationSec int) int {
	return min(max(durationSec/8, 3), 12)
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
