// Package steps assembles named pipelines from the content stages and checks
// that adjacent stages agree on the type flowing between them.
package steps

import (
	"fmt"
	"sort"

	"github.com/jonathan/reel-forge/internal/pipeline"
	"github.com/jonathan/reel-forge/internal/stage"
	"github.com/jonathan/reel-forge/internal/stages"
)

// Definition describes a registered pipeline.
type Definition struct {
	Name        string
	Description string
	Stages      []string
}

// Registry holds all registered pipelines.
var Registry = map[string]Definition{
	"shorts": {
		Name:        "shorts",
		Description: "brief to published short video",
		Stages: []string{
			stages.IDSource, stages.IDIdea, stages.IDScript, stages.IDVision,
			stages.IDVoice, stages.IDSubtitles, stages.IDImages, stages.IDVideo, stages.IDExport,
		},
	},
	"script": {
		Name:        "script",
		Description: "brief to reviewed script, no media",
		Stages:      []string{stages.IDSource, stages.IDIdea, stages.IDScript, stages.IDVision},
	},
}

// Names returns the registered pipeline names in sorted order.
func Names() []string {
	names := make([]string, 0, len(Registry))
	for name := range Registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// builtinFailure is the failure policy a stage has when config is silent.
var builtinFailure = map[string]stage.FailurePolicy{
	stages.IDSource:    stage.SkipAndContinue,
	stages.IDVision:    stage.SkipAndContinue,
	stages.IDSubtitles: stage.Degrade,
	stages.IDImages:    stage.Degrade,
}

// BuiltinPolicy returns the policy of stageID before config overrides.
func BuiltinPolicy(stageID string) stage.Policy {
	p := stage.Policy{OnFailure: stage.Abort}
	if f, ok := builtinFailure[stageID]; ok {
		p.OnFailure = f
	}
	return p
}

// PolicyFunc resolves the effective policy of a stage from its built-in one.
// (*config.Config).StagePolicy satisfies it.
type PolicyFunc func(stageID string, builtin stage.Policy) (stage.Policy, error)

// Collaborators are the external services stages call. A pipeline only
// needs the collaborators of its own stages.
type Collaborators struct {
	Writer      stages.Writer
	Fetcher     stages.SourceFetcher
	Speaker     stages.Speaker
	Transcriber stages.Transcriber
	Illustrator stages.Illustrator
	Composer    stages.Composer
	Publisher   stages.Publisher
}

// Settings carries stage parameters that are not collaborators.
type Settings struct {
	Media          stages.MediaSettings
	MaxSourceChars int
}

// MissingError reports a stage whose collaborator was not configured.
type MissingError struct {
	Pipeline     string
	Stage        string
	Collaborator string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("pipeline %s: stage %s needs a %s", e.Pipeline, e.Stage, e.Collaborator)
}

// ChainError reports stages whose types do not line up.
type ChainError struct {
	Pipeline string
	Stage    string
	Want     string
	Got      string
	Reason   string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("pipeline %s: stage %s %s: want %s, got %s", e.Pipeline, e.Stage, e.Reason, e.Want, e.Got)
}

// Build assembles the named pipeline. policies may be nil, in which case the
// built-in policy of each stage is used with the default retry budget.
func Build(name string, c Collaborators, s Settings, policies PolicyFunc) (*pipeline.Definition, error) {
	reg, ok := Registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown pipeline: %s", name)
	}

	def := &pipeline.Definition{Name: reg.Name}
	for _, id := range reg.Stages {
		st, err := newStage(reg.Name, id, c, s)
		if err != nil {
			return nil, err
		}
		builtin := BuiltinPolicy(id)
		var policy stage.Policy
		if policies != nil {
			policy, err = policies(id, builtin)
			if err != nil {
				return nil, err
			}
		} else {
			policy = stage.DefaultPolicy()
			policy.OnFailure = builtin.OnFailure
		}
		def.Steps = append(def.Steps, pipeline.Step{Stage: st, Policy: policy})
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}
	if err := CheckChain(def); err != nil {
		return nil, err
	}
	return def, nil
}

func newStage(pipelineName, id string, c Collaborators, s Settings) (stage.Stage, error) {
	missing := func(what string) error {
		return &MissingError{Pipeline: pipelineName, Stage: id, Collaborator: what}
	}
	switch id {
	case stages.IDSource:
		if c.Fetcher == nil {
			return nil, missing("source fetcher")
		}
		return stages.Source(c.Fetcher, s.MaxSourceChars), nil
	case stages.IDIdea, stages.IDScript, stages.IDVision:
		if c.Writer == nil {
			return nil, missing("language model (llm.api_key)")
		}
		switch id {
		case stages.IDIdea:
			return stages.Idea(c.Writer), nil
		case stages.IDScript:
			return stages.Script(c.Writer), nil
		default:
			return stages.Vision(c.Writer), nil
		}
	case stages.IDVoice:
		if c.Speaker == nil {
			return nil, missing("speech service (media.base_url)")
		}
		return stages.Voice(c.Speaker, s.Media), nil
	case stages.IDSubtitles:
		if c.Transcriber == nil {
			return nil, missing("transcription service (media.base_url)")
		}
		return stages.Subtitles(c.Transcriber, s.Media), nil
	case stages.IDImages:
		if c.Illustrator == nil {
			return nil, missing("image service (media.base_url)")
		}
		return stages.Images(c.Illustrator, s.Media), nil
	case stages.IDVideo:
		if c.Composer == nil {
			return nil, missing("video service (media.base_url)")
		}
		return stages.Video(c.Composer, s.Media), nil
	case stages.IDExport:
		if c.Publisher == nil {
			return nil, missing("publisher (export.bucket)")
		}
		return stages.Export(c.Publisher), nil
	}
	return nil, fmt.Errorf("pipeline %s: unknown stage: %s", pipelineName, id)
}

// CheckChain verifies each stage consumes its predecessor's output type and
// that stages which may be skipped pass their input through unchanged.
func CheckChain(def *pipeline.Definition) error {
	for i, step := range def.Steps {
		d := step.Stage.Descriptor()
		if i > 0 {
			prev := def.Steps[i-1].Stage.Descriptor()
			if d.InputType != prev.OutputType {
				return &ChainError{
					Pipeline: def.Name,
					Stage:    d.ID,
					Want:     prev.OutputType,
					Got:      d.InputType,
					Reason:   "input does not match " + prev.ID + " output",
				}
			}
		}
		if step.Policy.OnFailure == stage.SkipAndContinue && d.InputType != d.OutputType {
			return &ChainError{
				Pipeline: def.Name,
				Stage:    d.ID,
				Want:     d.InputType,
				Got:      d.OutputType,
				Reason:   "cannot be skipped",
			}
		}
	}
	return nil
}

// InputDecoder turns raw input into the first stage's input type.
type InputDecoder interface {
	DecodeInput(data []byte) (any, error)
}

// DecodeInput decodes data as the input of def's first stage.
func DecodeInput(def *pipeline.Definition, data []byte) (any, error) {
	if len(def.Steps) == 0 {
		return nil, fmt.Errorf("pipeline %s has no stages", def.Name)
	}
	first := def.Steps[0].Stage
	dec, ok := first.(InputDecoder)
	if !ok {
		return nil, fmt.Errorf("stage %s cannot decode input", first.Descriptor().ID)
	}
	return dec.DecodeInput(data)
}
