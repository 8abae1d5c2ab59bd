// Package types defines the content model passed between pipeline stages.
// Each stage's output type wraps its input so a checkpoint carries everything
// downstream stages need.
package types

// Type tags used by stage descriptors to check that a pipeline chains correctly.
const (
	TagBrief      = "brief"
	TagIdea       = "idea"
	TagScript     = "script"
	TagNarration  = "narration"
	TagCaptioned  = "captioned"
	TagStoryboard = "storyboard"
	TagRender     = "render"
	TagRelease    = "release"
)

// Brief is the initial input of a run: one content item for one audience segment.
type Brief struct {
	Key         string `json:"key" validate:"required,max=64"`
	Topic       string `json:"topic" validate:"required,min=3"`
	Audience    string `json:"audience,omitempty"`
	Language    string `json:"language,omitempty" validate:"omitempty,bcp47_language_tag"`
	DurationSec int    `json:"duration_sec,omitempty" validate:"omitempty,min=5,max=600"`
	SourceURL   string `json:"source_url,omitempty" validate:"omitempty,url"`
	SourceText  string `json:"source_text,omitempty"`
}

// TargetDuration returns the requested duration or the 60s default.
func (b Brief) TargetDuration() int {
	if b.DurationSec > 0 {
		return b.DurationSec
	}
	return 60
}

// Idea is the hook and angle chosen for a brief.
type Idea struct {
	Brief Brief  `json:"brief"`
	Title string `json:"title" validate:"required"`
	Hook  string `json:"hook" validate:"required"`
	Angle string `json:"angle,omitempty"`
}
