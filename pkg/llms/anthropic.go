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

type AnthropicProvider struct {
	config     *config.LLMConfig
	httpClient *httpclient.Client
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Usage   anthropicUsage     `json:"usage"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewAnthropicProviderFromConfig(cfg *config.LLMConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	return &AnthropicProvider{
		config:     cfg,
		httpClient: createHTTPClient(cfg, httpclient.ParseAnthropicHeaders),
	}, nil
}

func (p *AnthropicProvider) Complete(ctx context.Context, creq CompletionRequest) (*CompletionResponse, error) {
	startTime := time.Now()

	temperature := *p.config.Temperature
	if creq.Temperature != nil {
		temperature = *creq.Temperature
	}
	maxTokens := p.config.MaxTokens
	if creq.MaxTokens > 0 {
		maxTokens = creq.MaxTokens
	}

	request := anthropicRequest{
		Model:       p.config.Model,
		System:      creq.System,
		Messages:    []anthropicMessage{{Role: "user", Content: creq.Prompt}},
		MaxTokens:   maxTokens,
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
		apiErr := fmt.Errorf("anthropic API error: %s", response.Error.Message)
		observability.RecordLLMCall(ctx, p.config.Model, duration, 0, 0, apiErr)
		return nil, apiErr
	}

	var text string
	for _, content := range response.Content {
		if content.Type == "text" {
			text += content.Text
		}
	}

	observability.RecordLLMCall(ctx, p.config.Model, duration,
		response.Usage.InputTokens, response.Usage.OutputTokens, nil)

	return &CompletionResponse{
		Content:      text,
		Model:        p.config.Model,
		InputTokens:  response.Usage.InputTokens,
		OutputTokens: response.Usage.OutputTokens,
		Latency:      duration,
	}, nil
}

func (p *AnthropicProvider) makeRequest(ctx context.Context, request anthropicRequest) (*anthropicResponse, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.config.BaseURL+"/v1/messages", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(jsonData)), nil
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var response anthropicResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &response, nil
}

func (p *AnthropicProvider) ModelName() string {
	return p.config.Model
}

func (p *AnthropicProvider) Close() error {
	return nil
}

var _ Provider = (*AnthropicProvider)(nil)
