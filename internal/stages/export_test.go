package stages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/reel-forge/internal/fault"
	"github.com/jonathan/reel-forge/internal/stage"
	"github.com/jonathan/reel-forge/internal/types"
)

func TestExport(t *testing.T) {
	p := &fakePublisher{}
	r := types.Render{Storyboard: testStoryboard(), VideoURI: "https://media.example.com/out/video.mp4"}
	ctx := stage.WithRunInfo(context.Background(), stage.RunInfo{RunID: "run-7", StageID: IDExport})

	out, err := Export(p).Execute(ctx, r)
	require.NoError(t, err)

	rel := out.(types.Release)
	assert.Equal(t, "shorts/espresso/run-7.mp4", rel.ObjectKey)
	assert.Equal(t, "https://cdn.example.com/shorts/espresso/run-7.mp4", rel.URL)
	assert.Equal(t, int64(42), rel.Size)
	require.Len(t, p.objects, 1)
	assert.Equal(t, r.VideoURI, p.objects[0].SourceURI)
	assert.Equal(t, "How espresso works", p.objects[0].Metadata["topic"])
	assert.Equal(t, "12.0", p.objects[0].Metadata["duration"])
}

func TestExport_ValidatesRender(t *testing.T) {
	err := Export(&fakePublisher{}).Validate(types.Render{Storyboard: testStoryboard()})
	assert.Equal(t, fault.KindValidation, fault.Classify(err))
}

func TestObjectKey(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "k/video.mp4", ObjectKey(ctx, "k", "s3://b/x"))
	assert.Equal(t, "k/video.webm", ObjectKey(ctx, "k", "/tmp/out.webm"))
	assert.Equal(t, "k/video.mp4", ObjectKey(ctx, "k", "https://x/y.mp4?signature=abcdef"))

	ctx = stage.WithRunInfo(ctx, stage.RunInfo{RunID: "r1"})
	assert.Equal(t, "k/r1.mp4", ObjectKey(ctx, "k", "x.mp4"))
}
