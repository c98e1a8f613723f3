package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"zyphon/internal/platform/config"
)

const maxResponseBytes = 32 << 20

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature *float64
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ChatResult struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
}

type ImageRequest struct {
	Prompt string
	Size   string
	Format string
}

type ImageResult struct {
	Data        []byte
	ContentType string
}

// Client talks to an OpenAI-compatible completion and image API.
type Client struct {
	http       *http.Client
	baseURL    string
	apiKey     string
	chatModel  string
	imageModel string
	breaker    *gobreaker.CircuitBreaker
	logger     zerolog.Logger
}

func NewClient(cfg config.GenerationConfig, logger zerolog.Logger) *Client {
	logger = logger.With().Str("component", "generation").Logger()
	return &Client{
		http:       &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		chatModel:  cfg.ChatModel,
		imageModel: cfg.ImageModel,
		breaker:    newBreaker("generation", cfg.Breaker, logger),
		logger:     logger,
	}
}

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	return c.chat(ctx, req, nil)
}

func (c *Client) chat(ctx context.Context, req ChatRequest, format *responseFormat) (*ChatResult, error) {
	model := req.Model
	if model == "" {
		model = c.chatModel
	}

	body := chatCompletionRequest{
		Model:          model,
		Messages:       req.Messages,
		MaxTokens:      req.MaxTokens,
		Temperature:    req.Temperature,
		ResponseFormat: format,
	}

	return guard(c.breaker, func() (*ChatResult, error) {
		var resp chatCompletionResponse
		if err := c.postJSON(ctx, "/v1/chat/completions", body, &resp); err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("%w: completion has no choices", ErrUpstream)
		}
		if resp.Model == "" {
			resp.Model = model
		}
		return &ChatResult{
			Content: resp.Choices[0].Message.Content,
			Model:   resp.Model,
			Usage:   resp.Usage,
		}, nil
	})
}

type imageGenerationRequest struct {
	Model        string `json:"model"`
	Prompt       string `json:"prompt"`
	Size         string `json:"size"`
	N            int    `json:"n"`
	OutputFormat string `json:"output_format,omitempty"`
}

type imageGenerationResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// Image returns the decoded bytes of one generated image.
func (c *Client) Image(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	body := imageGenerationRequest{
		Model:        c.imageModel,
		Prompt:       req.Prompt,
		Size:         req.Size,
		N:            1,
		OutputFormat: req.Format,
	}

	return guard(c.breaker, func() (*ImageResult, error) {
		var resp imageGenerationResponse
		if err := c.postJSON(ctx, "/v1/images/generations", body, &resp); err != nil {
			return nil, err
		}
		if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
			return nil, fmt.Errorf("%w: image response has no data", ErrUpstream)
		}

		data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
		if err != nil {
			return nil, fmt.Errorf("%w: decode image: %v", ErrUpstream, err)
		}
		return &ImageResult{Data: data, ContentType: ImageContentType(req.Format)}, nil
	})
}

func ImageContentType(format string) string {
	switch format {
	case "jpeg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

func (c *Client) postJSON(ctx context.Context, path string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUpstream, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("upstream returned an error")
		return fmt.Errorf("%w: %s returned %d", ErrUpstream, path, resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUpstream, err)
	}
	return nil
}
