package types

// Frame is the still image shown for one scene.
type Frame struct {
	Scene    int    `json:"scene"`
	ImageURI string `json:"image_uri,omitempty"`
	Color    string `json:"color,omitempty"` // solid background used when no image exists
}

// Storyboard is the captioned narration plus one frame per scene.
type Storyboard struct {
	Captioned Captioned `json:"captioned"`
	Frames    []Frame   `json:"frames" validate:"required,min=1"`
}

// Render is the composed video.
type Render struct {
	Storyboard Storyboard `json:"storyboard"`
	VideoURI   string     `json:"video_uri" validate:"required"`
}

// Release is the exported artifact.
type Release struct {
	Render    Render `json:"render"`
	ObjectKey string `json:"object_key" validate:"required"`
	URL       string `json:"url,omitempty"`
	ETag      string `json:"etag,omitempty"`
	Size      int64  `json:"size,omitempty"`
}
