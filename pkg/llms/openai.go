package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kadirpekel/inquest/pkg/config"
	"github.com/kadirpekel/inquest/pkg/httpclient"
	"github.com/kadirpekel/inquest/pkg/observability"
)

func createHTTPClient(cfg *config.LLMConfig, parser httpclient.RateLimitHeaderParser) *httpclient.Client {
	return httpclient.New(
		httpclient.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithHeaderParser(parser),
	)
}

type OpenAIProvider struct {
	config     *config.LLMConfig
	httpClient *httpclient.Client
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

func NewOpenAIProviderFromConfig(cfg *config.LLMConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	return &OpenAIProvider{
		config:     cfg,
		httpClient: createHTTPClient(cfg, httpclient.ParseOpenAIHeaders),
	}, nil
}

func (p *OpenAIProvider) Complete(ctx context.Context, creq CompletionRequest) (*CompletionResponse, error) {
	startTime := time.Now()

	temperature := *p.config.Temperature
	if creq.Temperature != nil {
		temperature = *creq.Temperature
	}
	maxTokens := p.config.MaxTokens
	if creq.MaxTokens > 0 {
		maxTokens = creq.MaxTokens
	}

	messages := make([]openAIMessage, 0, 2)
	if creq.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: creq.System})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: creq.Prompt})

	request := openAIRequest{
		Model:       p.config.Model,
		Messages:    messages,
		MaxTokens:   &maxTokens,
		Temperature: temperature,
	}

	if creq.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, creq.Timeout)
		defer cancel()
	}

	response, err := p.makeRequest(ctx, request)
	duration := time.Since(startTime)
	if err != nil {
		observability.RecordLLMCall(ctx, p.config.Model, duration, 0, 0, err)
		return nil, err
	}
	if response.Error != nil {
		apiErr := fmt.Errorf("openai API error: %s", response.Error.Message)
		observability.RecordLLMCall(ctx, p.config.Model, duration, 0, 0, apiErr)
		return nil, apiErr
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	observability.RecordLLMCall(ctx, p.config.Model, duration,
		response.Usage.PromptTokens, response.Usage.CompletionTokens, nil)

	return &CompletionResponse{
		Content:      response.Choices[0].Message.Content,
		Model:        p.config.Model,
		InputTokens:  response.Usage.PromptTokens,
		OutputTokens: response.Usage.CompletionTokens,
		Latency:      duration,
	}, nil
}

func (p *OpenAIProvider) makeRequest(ctx context.Context, request openAIRequest) (*openAIResponse, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.config.BaseURL+"/v1/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(jsonData)), nil
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var response openAIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &response, nil
}

func (p *OpenAIProvider) ModelName() string {
	return p.config.Model
}

func (p *OpenAIProvider) Close() error {
	return nil
}

var _ Provider = (*OpenAIProvider)(nil)
