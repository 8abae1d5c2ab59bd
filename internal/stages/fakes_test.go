package stages

import (
	"context"
	"errors"
	"sync"

	"github.com/jonathan/reel-forge/internal/export"
	"github.com/jonathan/reel-forge/internal/fetch"
	"github.com/jonathan/reel-forge/internal/llm"
	"github.com/jonathan/reel-forge/internal/media"
	"github.com/jonathan/reel-forge/internal/types"
)

type fakeWriter struct {
	mu        sync.Mutex
	responses []string
	err       error
	prompts   []string
	tiers     []llm.ModelTier
}

func (f *fakeWriter) GenerateJSON(_ context.Context, prompt string, tier llm.ModelTier) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	f.tiers = append(f.tiers, tier)
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", errors.New("no scripted response")
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

func (f *fakeWriter) GetModel(tier llm.ModelTier) string {
	return "fake-" + string(tier)
}

type fakeFetcher struct {
	text  string
	err   error
	calls int
}

func (f *fakeFetcher) Article(_ context.Context, url string) (*fetch.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &fetch.Result{URL: url, Text: f.text}, nil
}

type fakeMedia struct {
	speech     *media.SpeechResponse
	segments   []media.Segment
	imageErrAt int
	err        error

	speechReqs []media.SpeechRequest
	imageReqs  []media.ImageRequest
	videoReqs  []media.VideoRequest
}

func (f *fakeMedia) Synthesize(_ context.Context, req media.SpeechRequest) (*media.SpeechResponse, error) {
	f.speechReqs = append(f.speechReqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.speech, nil
}

func (f *fakeMedia) Transcribe(_ context.Context, _ media.TranscriptionRequest) (*media.TranscriptionResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &media.TranscriptionResponse{Segments: f.segments}, nil
}

func (f *fakeMedia) Illustrate(_ context.Context, req media.ImageRequest) (*media.ImageResponse, error) {
	f.imageReqs = append(f.imageReqs, req)
	if f.err != nil && req.Scene == f.imageErrAt {
		return nil, f.err
	}
	return &media.ImageResponse{ImageURI: "img://" + req.Prompt}, nil
}

func (f *fakeMedia) Compose(_ context.Context, req media.VideoRequest) (*media.VideoResponse, error) {
	f.videoReqs = append(f.videoReqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &media.VideoResponse{VideoURI: "https://media.example.com/out/video.mp4"}, nil
}

type fakePublisher struct {
	objects []export.Object
	err     error
}

func (f *fakePublisher) Publish(_ context.Context, obj export.Object) (*export.Receipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.objects = append(f.objects, obj)
	return &export.Receipt{Bucket: "reels", Key: "shorts/" + obj.Key, URL: "https://cdn.example.com/shorts/" + obj.Key, ETag: "e1", Size: 42}, nil
}

func testBrief() types.Brief {
	return types.Brief{Key: "espresso", Topic: "How espresso works", Audience: "coffee fans", Language: "en", DurationSec: 30}
}

func testIdea() types.Idea {
	return types.Idea{Brief: testBrief(), Title: "Nine bars of pressure", Hook: "Your espresso is a pressure cooker.", Angle: "physics"}
}

func testScript() types.Script {
	return types.Script{
		Idea: testIdea(),
		Scenes: []types.Scene{
			{Index: 0, Narration: "Your espresso is a pressure cooker.", ImagePrompt: "espresso machine close-up"},
			{Index: 1, Narration: "Water at nine bars pushes through the puck.", ImagePrompt: "water through coffee grounds"},
			{Index: 2, Narration: "Crema is emulsified oil.", ImagePrompt: "crema swirl"},
		},
	}
}

func testNarration() types.Narration {
	return types.Narration{Script: testScript(), AudioURI: "s3://audio/voice.mp3", DurationSec: 12, Voice: "alloy"}
}

func testCaptioned() types.Captioned {
	return types.Captioned{Narration: testNarration(), Cues: []types.Cue{{Start: 0, End: 12, Text: "all"}}}
}

func testStoryboard() types.Storyboard {
	return types.Storyboard{Captioned: testCaptioned(), Frames: []types.Frame{
		{Scene: 0, ImageURI: "img://a"}, {Scene: 1, ImageURI: "img://b"}, {Scene: 2, Color: "#0F766E"},
	}}
}
