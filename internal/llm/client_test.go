package llm

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/jonathan/reel-forge/internal/fault"
)

type fakeClient struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeClient) GenerateContent(_ context.Context, prompt string, _ ModelTier) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.response, f.err
}

func (f *fakeClient) GenerateJSON(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	return f.GenerateContent(ctx, prompt, tier)
}

func (f *fakeClient) GetModel(ModelTier) string { return "fake-model" }
func (f *fakeClient) Close() error              { return nil }

func TestGenerateInto(t *testing.T) {
	client := &fakeClient{response: "Sure:\n```json\n{\"title\": \"Comets\"}\n```"}

	var out struct {
		Title string `json:"title"`
	}
	require.NoError(t, GenerateInto(context.Background(), client, "prompt", TierStandard, &out))
	assert.Equal(t, "Comets", out.Title)
	assert.Equal(t, []string{"prompt"}, client.prompts)
}

func TestGenerateInto_MalformedIsTransient(t *testing.T) {
	client := &fakeClient{response: "{\"title\": "}

	var out map[string]any
	err := GenerateInto(context.Background(), client, "prompt", TierStandard, &out)
	require.Error(t, err)
	assert.Equal(t, fault.KindTransient, fault.Classify(err))
}

func TestGenerateInto_PropagatesClientError(t *testing.T) {
	apiErr := &googleapi.Error{Code: 400, Message: "bad request"}
	client := &fakeClient{err: classify(apiErr)}

	var out map[string]any
	err := GenerateInto(context.Background(), client, "prompt", TierStandard, &out)
	assert.Equal(t, fault.KindFatal, fault.Classify(err))
}

func TestClassify(t *testing.T) {
	blocked := classify(&genai.BlockedError{})
	assert.Equal(t, fault.KindFatal, fault.Classify(blocked))

	overloaded := classify(&googleapi.Error{Code: 503})
	assert.Equal(t, fault.KindTransient, fault.Classify(overloaded))

	var apiErr *googleapi.Error
	assert.True(t, errors.As(overloaded, &apiErr))
}

func TestResponseText(t *testing.T) {
	_, err := responseText(&genai.GenerateContentResponse{})
	assert.Equal(t, fault.KindTransient, fault.Classify(err))

	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text("Hello "), genai.Text("world")}},
		}},
	}
	text, err := responseText(resp)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", text)
}

func TestNewGeminiClient_RequiresKey(t *testing.T) {
	_, err := NewGeminiClient(context.Background(), nil, "")
	assert.Error(t, err)
}

func TestGeminiClient_Integration(t *testing.T) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		t.Skip("GEMINI_API_KEY not set")
	}

	client, err := NewGeminiClient(context.Background(), DefaultConfig(), apiKey)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	var out struct {
		Answer string `json:"answer"`
	}
	err = GenerateInto(context.Background(), client, `Return {"answer": "ok"} as JSON.`, TierLite, &out)
	require.NoError(t, err)
	assert.NotEmpty(t, out.Answer)
}
