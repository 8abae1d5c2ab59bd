package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/jonathan/reel-forge/internal/fault"
)

// JSONGenerator is the part of Client the writing stages depend on.
type JSONGenerator interface {
	// GenerateJSON generates JSON content using the specified model tier
	GenerateJSON(ctx context.Context, prompt string, tier ModelTier) (string, error)
	// GetModel returns the underlying provider model for a tier
	GetModel(tier ModelTier) string
}

// Client is an abstraction over LLM providers
type Client interface {
	JSONGenerator
	// GenerateContent generates text content using the specified model tier
	GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error)
	// Close releases any resources held by the client
	Close() error
}

// GeminiClient implements Client for Google Gemini
type GeminiClient struct {
	client *genai.Client
	config *Config
}

// NewGeminiClient creates a new Gemini client
func NewGeminiClient(ctx context.Context, config *Config, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if config == nil {
		config = DefaultConfig()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client: client,
		config: config,
	}, nil
}

// generate runs one request against the tier's model. JSON requests ask the
// API for application/json and strip any fences the model adds anyway.
func (c *GeminiClient) generate(ctx context.Context, prompt string, tier ModelTier, asJSON bool) (string, error) {
	name := c.config.GetModel(tier)
	if name == "" {
		return "", fault.Fatal(fmt.Errorf("no model configured for tier %s", tier))
	}
	model := c.client.GenerativeModel(name)
	model.SetTemperature(c.config.Temperature)
	if asJSON {
		model.ResponseMIMEType = "application/json"
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", classify(err)
	}
	text, err := responseText(resp)
	if err != nil {
		return "", err
	}
	if asJSON {
		return CleanJSONBlock(text), nil
	}
	return text, nil
}

// GenerateContent generates text content using the specified model tier
func (c *GeminiClient) GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	return c.generate(ctx, prompt, tier, false)
}

// GenerateJSON generates JSON content using the specified model tier
func (c *GeminiClient) GenerateJSON(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	return c.generate(ctx, prompt, tier, true)
}

// GetModel returns the model name for a tier
func (c *GeminiClient) GetModel(tier ModelTier) string {
	return c.config.GetModel(tier)
}

// Close releases resources held by the client
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// classify marks safety blocks as fatal: the same prompt is blocked again.
// API errors keep their *googleapi.Error in the chain for fault.Classify.
func classify(err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return fault.Fatal(fmt.Errorf("content blocked: %w", err))
	}
	return fmt.Errorf("failed to generate content: %w", err)
}

// responseText joins the text parts of the first candidate. An empty
// response is transient.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fault.Transient(errors.New("no candidates in response"))
	}
	content := resp.Candidates[0].Content
	if content == nil {
		return "", fault.Transient(errors.New("no content in response"))
	}
	var sb strings.Builder
	for _, part := range content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", fault.Transient(errors.New("no text parts in response"))
	}
	return sb.String(), nil
}

// GenerateInto asks for JSON and decodes it into v. A response that does not
// decode is transient: sampling again usually fixes it.
func GenerateInto(ctx context.Context, client JSONGenerator, prompt string, tier ModelTier, v any) error {
	text, err := client.GenerateJSON(ctx, prompt, tier)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(CleanJSONBlock(text)), v); err != nil {
		return fault.Transient(fmt.Errorf("decode %s response: %w", client.GetModel(tier), err))
	}
	return nil
}
