package media

import (
	"context"
	"strconv"
)

// SpeechRequest asks for narration audio.
type SpeechRequest struct {
	Text     string `json:"text"`
	Voice    string `json:"voice,omitempty"`
	Language string `json:"language,omitempty"`
}

// SpeechResponse points at the synthesized audio.
type SpeechResponse struct {
	AudioURI    string  `json:"audio_uri"`
	DurationSec float64 `json:"duration_sec"`
	Voice       string  `json:"voice,omitempty"`
}

// TranscriptionRequest asks for timed captions of an audio file.
type TranscriptionRequest struct {
	AudioURI string `json:"audio_uri"`
	Language string `json:"language,omitempty"`
	// Text is the known script, used by the gateway for forced alignment.
	Text string `json:"text,omitempty"`
}

// Segment is one timed caption.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptionResponse holds timed segments.
type TranscriptionResponse struct {
	Segments []Segment `json:"segments"`
}

// ImageRequest asks for one illustration.
type ImageRequest struct {
	Prompt     string `json:"prompt"`
	Guidance   string `json:"guidance,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	Scene      int    `json:"scene"`
}

// ImageResponse points at a generated image.
type ImageResponse struct {
	ImageURI string `json:"image_uri"`
}

// Clip is one visual segment of a composed video.
type Clip struct {
	ImageURI string  `json:"image_uri,omitempty"`
	Color    string  `json:"color,omitempty"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
}

// Caption is burned into the video.
type Caption struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// VideoRequest composes narration, clips and captions.
type VideoRequest struct {
	AudioURI   string    `json:"audio_uri"`
	Clips      []Clip    `json:"clips"`
	Captions   []Caption `json:"captions,omitempty"`
	Resolution string    `json:"resolution,omitempty"`
}

// VideoResponse points at the rendered video.
type VideoResponse struct {
	VideoURI string `json:"video_uri"`
}

// Synthesize calls POST /v1/speech.
func (c *Client) Synthesize(ctx context.Context, req SpeechRequest) (*SpeechResponse, error) {
	var out SpeechResponse
	if err := c.post(ctx, "/v1/speech", "", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transcribe calls POST /v1/transcriptions.
func (c *Client) Transcribe(ctx context.Context, req TranscriptionRequest) (*TranscriptionResponse, error) {
	var out TranscriptionResponse
	if err := c.post(ctx, "/v1/transcriptions", "", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Illustrate calls POST /v1/images. Each scene gets its own idempotency key.
func (c *Client) Illustrate(ctx context.Context, req ImageRequest) (*ImageResponse, error) {
	var out ImageResponse
	if err := c.post(ctx, "/v1/images", "scene-"+strconv.Itoa(req.Scene), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Compose calls POST /v1/videos.
func (c *Client) Compose(ctx context.Context, req VideoRequest) (*VideoResponse, error) {
	var out VideoResponse
	if err := c.post(ctx, "/v1/videos", "", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
