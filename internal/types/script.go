package types

// Scene is one narrated beat of a script.
type Scene struct {
	Index       int     `json:"index"`
	Narration   string  `json:"narration" validate:"required"`
	ImagePrompt string  `json:"image_prompt" validate:"required"`
	Guidance    string  `json:"guidance,omitempty"`
	DurationSec float64 `json:"duration_sec,omitempty"`
}

// Script is the full narration split into scenes.
type Script struct {
	Idea   Idea    `json:"idea"`
	Scenes []Scene `json:"scenes" validate:"required,min=1,dive"`
}

// FullText joins all scene narrations.
func (s Script) FullText() string {
	out := ""
	for i, sc := range s.Scenes {
		if i > 0 {
			out += " "
		}
		out += sc.Narration
	}
	return out
}

// Narration is the script plus its synthesized voice track.
type Narration struct {
	Script      Script  `json:"script"`
	AudioURI    string  `json:"audio_uri" validate:"required"`
	DurationSec float64 `json:"duration_sec" validate:"gt=0"`
	Voice       string  `json:"voice,omitempty"`
}

// Cue is one subtitle line.
type Cue struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Captioned is the narration plus timed subtitles.
type Captioned struct {
	Narration Narration `json:"narration"`
	Cues      []Cue     `json:"cues" validate:"required,min=1"`
	Estimated bool      `json:"estimated,omitempty"`
}
