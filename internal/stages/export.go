package stages

import (
	"context"
	"path"
	"strconv"

	"github.com/jonathan/reel-forge/internal/export"
	"github.com/jonathan/reel-forge/internal/stage"
	"github.com/jonathan/reel-forge/internal/types"
)

// Export publishes the rendered video. Publishing is keyed by run, so a
// repeated attempt finds the existing object instead of uploading twice.
func Export(p Publisher) *stage.Typed[types.Render, types.Release] {
	desc := stage.Descriptor{
		ID:         IDExport,
		Name:       "Export",
		Version:    1,
		InputType:  types.TagRender,
		OutputType: types.TagRelease,
		Dependency: DepStorage,
		Idempotent: true,
	}
	return stage.New(desc, func(ctx context.Context, r types.Render) (types.Release, error) {
		brief := r.Storyboard.Captioned.Narration.Script.Idea.Brief
		key := ObjectKey(ctx, brief.Key, r.VideoURI)
		receipt, err := p.Publish(ctx, export.Object{
			Key:       key,
			SourceURI: r.VideoURI,
			Metadata: map[string]string{
				"topic":    brief.Topic,
				"title":    r.Storyboard.Captioned.Narration.Script.Idea.Title,
				"duration": strconv.FormatFloat(r.Storyboard.Captioned.Narration.DurationSec, 'f', 1, 64),
			},
		})
		if err != nil {
			return types.Release{}, err
		}
		return types.Release{Render: r, ObjectKey: receipt.Key, URL: receipt.URL, ETag: receipt.ETag, Size: receipt.Size}, nil
	})
}

// ObjectKey is "<brief key>/<run id><ext>", or "<brief key>/video<ext>"
// outside a run.
func ObjectKey(ctx context.Context, briefKey, videoURI string) string {
	ext := path.Ext(videoURI)
	if ext == "" || len(ext) > 6 {
		ext = ".mp4"
	}
	name := "video"
	if ri, ok := stage.RunInfoFrom(ctx); ok && ri.RunID != "" {
		name = ri.RunID
	}
	return path.Join(briefKey, name+ext)
}
