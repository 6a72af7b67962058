package vision

import (
	"context"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/meishi-bot/meishi/internal/card"
)

const (
	OpenAIName         = "openai"
	openAIDefaultModel = "gpt-4o"

	userInstruction = "画像ファイルを解析してください"
)

//go:embed system.tmpl
var systemPrompt string

// OpenAIConfig holds configuration for the OpenAI extraction client.
type OpenAIConfig struct {
	APIKey     string
	Model      string        // "gpt-4o" (default)
	BaseURL    string        // Optional (gateways, tests)
	Timeout    time.Duration // HTTP timeout
	HTTPClient *http.Client  // Optional (tests)
}

// OpenAIClient implements Extractor using the official OpenAI SDK
// with a vision-capable chat model and structured JSON output.
type OpenAIClient struct {
	model  string
	client openai.Client
}

// NewOpenAIClient creates a new OpenAI extraction client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		model:  cfg.Model,
		client: openai.NewClient(opts...),
	}
}

// Name returns the extractor identifier.
func (c *OpenAIClient) Name() string {
	return OpenAIName
}

// Extract sends the image as an inline data URL and parses the
// model's structured response into a card record.
func (c *OpenAIClient) Extract(ctx context.Context, img card.Image) (*card.Record, error) {
	if len(img.Data) == 0 {
		return nil, fmt.Errorf("image %s has no data", img.FileName)
	}

	contentType := img.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	dataURL := "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(userInstruction),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: dataURL,
				}),
			}),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "name_card",
					Strict: openai.Bool(true),
					Schema: card.ExtractionSchema,
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("extraction request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("extraction returned no choices")
	}

	raw, err := parseRecordJSON(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	var rec card.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &rec, nil
}
