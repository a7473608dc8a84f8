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
	"github.com/kadirpekel/inquest/pkg/observability"
)

// OllamaProvider talks to a local Ollama server. Useful for development and
// simulation runs without API keys.
type OllamaProvider struct {
	config *config.LLMConfig
	client *http.Client
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Message         ollamaMessage `json:"message"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error,omitempty"`
}

func NewOllamaProviderFromConfig(cfg *config.LLMConfig) (*OllamaProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	return &OllamaProvider{
		config: cfg,
		client: &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
	}, nil
}

func (p *OllamaProvider) Complete(ctx context.Context, creq CompletionRequest) (*CompletionResponse, error) {
	startTime := time.Now()

	temperature := *p.config.Temperature
	if creq.Temperature != nil {
		temperature = *creq.Temperature
	}
	maxTokens := p.config.MaxTokens
	if creq.MaxTokens > 0 {
		maxTokens = creq.MaxTokens
	}

	messages := make([]ollamaMessage, 0, 2)
	if creq.System != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: creq.System})
	}
	messages = append(messages, ollamaMessage{Role: "user", Content: creq.Prompt})

	request := ollamaRequest{
		Model:    p.config.Model,
		Messages: messages,
		Stream:   false,
		Options: ollamaOptions{
			Temperature: temperature,
			NumPredict:  maxTokens,
		},
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
	if response.Error != "" {
		apiErr := fmt.Errorf("ollama API error: %s", response.Error)
		observability.RecordLLMCall(ctx, p.config.Model, duration, 0, 0, apiErr)
		return nil, apiErr
	}

	observability.RecordLLMCall(ctx, p.config.Model, duration,
		response.PromptEvalCount, response.EvalCount, nil)

	return &CompletionResponse{
		Content:      response.Message.Content,
		Model:        p.config.Model,
		InputTokens:  response.PromptEvalCount,
		OutputTokens: response.EvalCount,
		Latency:      duration,
	}, nil
}

func (p *OllamaProvider) makeRequest(ctx context.Context, request ollamaRequest) (*ollamaResponse, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.config.BaseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var response ollamaResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &response, nil
}

func (p *OllamaProvider) ModelName() string {
	return p.config.Model
}

func (p *OllamaProvider) Close() error {
	return nil
}

var _ Provider = (*OllamaProvider)(nil)
