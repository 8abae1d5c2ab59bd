package stages

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/jonathan/reel-forge/internal/fault"
	"github.com/jonathan/reel-forge/internal/media"
	"github.com/jonathan/reel-forge/internal/stage"
	"github.com/jonathan/reel-forge/internal/types"
)

// palette colours the frames of a degraded storyboard.
var palette = []string{"#1F2937", "#0F766E", "#7C3AED", "#B45309", "#BE123C", "#1D4ED8"}

// Voice synthesizes the narration track.
func Voice(sp Speaker, ms MediaSettings) *stage.Typed[types.Script, types.Narration] {
	desc := stage.Descriptor{
		ID:         IDVoice,
		Name:       "Synthesize voice",
		Version:    1,
		InputType:  types.TagScript,
		OutputType: types.TagNarration,
		Dependency: DepTTS,
		Idempotent: ms.Idempotent,
	}
	return stage.New(desc, func(ctx context.Context, s types.Script) (types.Narration, error) {
		resp, err := sp.Synthesize(ctx, media.SpeechRequest{
			Text:     s.FullText(),
			Voice:    ms.Voice,
			Language: s.Idea.Brief.Language,
		})
		if err != nil {
			return types.Narration{}, err
		}
		if resp.AudioURI == "" || resp.DurationSec <= 0 {
			return types.Narration{}, fault.Fatal(fmt.Errorf("speech response has no audio"))
		}
		return types.Narration{
			Script:      s,
			AudioURI:    resp.AudioURI,
			DurationSec: resp.DurationSec,
			Voice:       orDefault(resp.Voice, ms.Voice),
		}, nil
	}).WithSchema("script")
}

// Subtitles transcribes the narration. Its fallback times the script text
// across the audio instead.
func Subtitles(tr Transcriber, ms MediaSettings) *stage.Typed[types.Narration, types.Captioned] {
	desc := stage.Descriptor{
		ID:         IDSubtitles,
		Name:       "Subtitles",
		Version:    1,
		InputType:  types.TagNarration,
		OutputType: types.TagCaptioned,
		Dependency: DepASR,
		Idempotent: ms.Idempotent,
	}
	return stage.New(desc, func(ctx context.Context, n types.Narration) (types.Captioned, error) {
		resp, err := tr.Transcribe(ctx, media.TranscriptionRequest{
			AudioURI: n.AudioURI,
			Language: n.Script.Idea.Brief.Language,
			Text:     n.Script.FullText(),
		})
		if err != nil {
			return types.Captioned{}, err
		}
		cues := make([]types.Cue, 0, len(resp.Segments))
		for _, seg := range resp.Segments {
			if strings.TrimSpace(seg.Text) == "" || seg.End <= seg.Start {
				continue
			}
			cues = append(cues, types.Cue{Start: seg.Start, End: seg.End, Text: strings.TrimSpace(seg.Text)})
		}
		if len(cues) == 0 {
			return types.Captioned{}, fault.Transient(fmt.Errorf("transcription returned no usable segments"))
		}
		return types.Captioned{Narration: n, Cues: cues}, nil
	}).WithFallback(func(_ context.Context, n types.Narration) (types.Captioned, error) {
		return types.Captioned{Narration: n, Cues: EstimateCues(n), Estimated: true}, nil
	})
}

// Images illustrates every scene.
func Images(il Illustrator, ms MediaSettings) *stage.Typed[types.Captioned, types.Storyboard] {
	desc := stage.Descriptor{
		ID:         IDImages,
		Name:       "Illustrate scenes",
		Version:    1,
		InputType:  types.TagCaptioned,
		OutputType: types.TagStoryboard,
		Dependency: DepImages,
		Idempotent: ms.Idempotent,
	}
	return stage.New(desc, func(ctx context.Context, c types.Captioned) (types.Storyboard, error) {
		scenes := c.Narration.Script.Scenes
		frames := make([]types.Frame, 0, len(scenes))
		for _, sc := range scenes {
			resp, err := il.Illustrate(ctx, media.ImageRequest{
				Prompt:     sc.ImagePrompt,
				Guidance:   sc.Guidance,
				Resolution: ms.Resolution,
				Scene:      sc.Index,
			})
			if err != nil {
				return types.Storyboard{}, fmt.Errorf("scene %d: %w", sc.Index, err)
			}
			if resp.ImageURI == "" {
				return types.Storyboard{}, fault.Fatal(fmt.Errorf("scene %d: image response has no uri", sc.Index))
			}
			frames = append(frames, types.Frame{Scene: sc.Index, ImageURI: resp.ImageURI})
		}
		return types.Storyboard{Captioned: c, Frames: frames}, nil
	}).WithFallback(func(_ context.Context, c types.Captioned) (types.Storyboard, error) {
		return types.Storyboard{Captioned: c, Frames: SolidFrames(c.Narration.Script)}, nil
	})
}

// Video composes frames, narration and captions.
func Video(co Composer, ms MediaSettings) *stage.Typed[types.Storyboard, types.Render] {
	desc := stage.Descriptor{
		ID:         IDVideo,
		Name:       "Compose video",
		Version:    1,
		InputType:  types.TagStoryboard,
		OutputType: types.TagRender,
		Dependency: DepVideo,
		Idempotent: ms.Idempotent,
	}
	return stage.New(desc, func(ctx context.Context, sb types.Storyboard) (types.Render, error) {
		n := sb.Captioned.Narration
		spans := SceneSpans(n.Script, n.DurationSec)
		clips := make([]media.Clip, 0, len(sb.Frames))
		for i, f := range sb.Frames {
			span := spans[min(i, len(spans)-1)]
			clips = append(clips, media.Clip{ImageURI: f.ImageURI, Color: f.Color, Start: span.Start, End: span.End})
		}
		captions := make([]media.Caption, 0, len(sb.Captioned.Cues))
		for _, cue := range sb.Captioned.Cues {
			captions = append(captions, media.Caption(cue))
		}

		resp, err := co.Compose(ctx, media.VideoRequest{
			AudioURI:   n.AudioURI,
			Clips:      clips,
			Captions:   captions,
			Resolution: ms.Resolution,
		})
		if err != nil {
			return types.Render{}, err
		}
		if resp.VideoURI == "" {
			return types.Render{}, fault.Fatal(fmt.Errorf("video response has no uri"))
		}
		return types.Render{Storyboard: sb, VideoURI: resp.VideoURI}, nil
	}).WithSchema("storyboard").WithCheck(func(sb types.Storyboard) error {
		if len(sb.Frames) != len(sb.Captioned.Narration.Script.Scenes) {
			return fmt.Errorf("storyboard has %d frames for %d scenes", len(sb.Frames), len(sb.Captioned.Narration.Script.Scenes))
		}
		return nil
	})
}

// Span is a time range in seconds.
type Span struct {
	Start float64
	End   float64
}

// SceneSpans splits total seconds across the scenes of s. Scenes are weighted
// by their requested durations when every scene has one, otherwise by word
// count.
func SceneSpans(s types.Script, total float64) []Span {
	if len(s.Scenes) == 0 {
		return []Span{{Start: 0, End: total}}
	}
	weights := make([]float64, len(s.Scenes))
	useDurations := true
	for _, sc := range s.Scenes {
		if sc.DurationSec <= 0 {
			useDurations = false
			break
		}
	}
	var sum float64
	for i, sc := range s.Scenes {
		if useDurations {
			weights[i] = sc.DurationSec
		} else {
			weights[i] = float64(max(len(strings.Fields(sc.Narration)), 1))
		}
		sum += weights[i]
	}

	spans := make([]Span, len(s.Scenes))
	var at float64
	for i, w := range weights {
		end := at + total*w/sum
		if i == len(weights)-1 {
			end = total
		}
		spans[i] = Span{Start: round3(at), End: round3(end)}
		at = end
	}
	return spans
}

// EstimateCues produces one cue per scene timed by SceneSpans.
func EstimateCues(n types.Narration) []types.Cue {
	spans := SceneSpans(n.Script, n.DurationSec)
	cues := make([]types.Cue, 0, len(n.Script.Scenes))
	for i, sc := range n.Script.Scenes {
		cues = append(cues, types.Cue{Start: spans[i].Start, End: spans[i].End, Text: sc.Narration})
	}
	if len(cues) == 0 {
		cues = append(cues, types.Cue{Start: 0, End: n.DurationSec, Text: n.Script.Idea.Title})
	}
	return cues
}

// SolidFrames gives every scene a solid background colour.
func SolidFrames(s types.Script) []types.Frame {
	frames := make([]types.Frame, 0, len(s.Scenes))
	for i, sc := range s.Scenes {
		frames = append(frames, types.Frame{Scene: sc.Index, Color: palette[i%len(palette)]})
	}
	return frames
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
