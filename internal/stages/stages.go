// Package stages implements the content stages of the shorts pipeline on top
// of the typed stage contract. Each constructor takes the narrow collaborator
// it calls so tests can substitute fakes.
package stages

import (
	"context"

	"github.com/jonathan/reel-forge/internal/export"
	"github.com/jonathan/reel-forge/internal/fetch"
	"github.com/jonathan/reel-forge/internal/llm"
	"github.com/jonathan/reel-forge/internal/media"
)

// Stage IDs. They are persisted in checkpoints and must not change.
const (
	IDSource    = "source"
	IDIdea      = "idea"
	IDScript    = "script"
	IDVision    = "vision"
	IDVoice     = "voice"
	IDSubtitles = "subtitles"
	IDImages    = "images"
	IDVideo     = "video"
	IDExport    = "export"
)

// Dependency names. Stages naming the same dependency share a circuit breaker.
const (
	DepWeb     = "web"
	DepLLM     = "llm"
	DepTTS     = "tts"
	DepASR     = "asr"
	DepImages  = "images"
	DepVideo   = "video"
	DepStorage = "storage"
)

const promptFile = "content.json"

// Writer generates structured text.
type Writer = llm.JSONGenerator

// SourceFetcher retrieves the readable text of an article.
type SourceFetcher interface {
	Article(ctx context.Context, url string) (*fetch.Result, error)
}

// Speaker synthesizes narration audio.
type Speaker interface {
	Synthesize(ctx context.Context, req media.SpeechRequest) (*media.SpeechResponse, error)
}

// Transcriber produces timed captions for audio.
type Transcriber interface {
	Transcribe(ctx context.Context, req media.TranscriptionRequest) (*media.TranscriptionResponse, error)
}

// Illustrator generates one image per request.
type Illustrator interface {
	Illustrate(ctx context.Context, req media.ImageRequest) (*media.ImageResponse, error)
}

// Composer renders the final video.
type Composer interface {
	Compose(ctx context.Context, req media.VideoRequest) (*media.VideoResponse, error)
}

// Publisher uploads the rendered video.
type Publisher interface {
	Publish(ctx context.Context, obj export.Object) (*export.Receipt, error)
}

// MediaSettings are the media options shared by the media stages.
type MediaSettings struct {
	Voice      string
	Resolution string
	// Idempotent is true when the gateway deduplicates repeated requests.
	Idempotent bool
}
