// Package openai provides an OpenAI-compatible LLM provider implementation.
//
// The provider speaks the chat-completions SSE protocol directly so it works
// with Azure OpenAI, local gateways, and other compatible services that may
// include SSE comments or slight format variations.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/openai/openai-go"

	"github.com/Zeeeepa/web-eval-agent/pkg/llm"
	"github.com/Zeeeepa/web-eval-agent/pkg/types"
)

// DefaultBaseURL is the default OpenAI API base URL.
const DefaultBaseURL = "https://api.openai.com/v1"

// Provider implements llm.Provider for OpenAI-compatible APIs.
type Provider struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	model      string
	modelInfo  *types.ModelInfo
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithModel sets the model to use for completions.
func WithModel(model string) ProviderOption {
	return func(p *Provider) {
		p.model = model
	}
}

// WithBaseURL sets a custom base URL for OpenAI-compatible APIs.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		p.baseURL = baseURL
	}
}

// NewProvider creates a new OpenAI provider with the given API key.
//
// If apiKey is empty, the OPENAI_API_KEY environment variable is used. If no
// base URL is supplied via WithBaseURL, OPENAI_BASE_URL is consulted before
// falling back to the public endpoint. The default model is "gpt-4o".
func NewProvider(apiKey string, opts ...ProviderOption) (*Provider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (provide via parameter or OPENAI_API_KEY environment variable)")
	}

	p := &Provider{
		model:      "gpt-4o",
		apiKey:     apiKey,
		httpClient: &http.Client{},
		baseURL:    DefaultBaseURL,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.baseURL == DefaultBaseURL {
		if envBaseURL := os.Getenv("OPENAI_BASE_URL"); envBaseURL != "" {
			p.baseURL = envBaseURL
		}
	}

	p.modelInfo = &types.ModelInfo{
		Name:              p.model,
		Provider:          "openai",
		MaxTokens:         8192, // varies by model
		SupportsStreaming: true,
		Metadata:          make(map[string]interface{}),
	}
	if p.baseURL != DefaultBaseURL {
		p.modelInfo.Metadata["base_url"] = p.baseURL
	}

	return p, nil
}

// StreamCompletion sends messages to the API and streams back response chunks.
func (p *Provider) StreamCompletion(ctx context.Context, messages []*types.Message) (<-chan *llm.StreamChunk, error) {
	resp, err := p.sendStreamRequest(ctx, messages)
	if err != nil {
		return nil, err
	}

	chunks := make(chan *llm.StreamChunk, 10)
	go p.processStreamResponse(ctx, resp, chunks)
	return chunks, nil
}

// sendStreamRequest creates and sends the HTTP request for streaming.
func (p *Provider) sendStreamRequest(ctx context.Context, messages []*types.Message) (*http.Response, error) {
	reqBody := map[string]interface{}{
		"model":    p.model,
		"messages": convertToOpenAIMessages(messages),
		"stream":   true,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := p.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("API request failed with status %d (failed to read error body: %w)", resp.StatusCode, readErr)
		}
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return resp, nil
}

// processStreamResponse reads the SSE stream and sends chunks to the channel.
func (p *Provider) processStreamResponse(ctx context.Context, resp *http.Response, chunks chan<- *llm.StreamChunk) {
	defer close(chunks)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	firstChunk := true

	for scanner.Scan() {
		line := scanner.Text()

		if !isValidSSELine(line) {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")

		if data == "[DONE]" {
			p.sendChunk(ctx, &llm.StreamChunk{Finished: true}, chunks)
			return
		}

		if !p.processSSEChunk(ctx, data, &firstChunk, chunks) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		chunks <- &llm.StreamChunk{Error: fmt.Errorf("stream read error: %w", err)}
	}
}

// isValidSSELine checks if a line is a valid SSE data line.
func isValidSSELine(line string) bool {
	return line != "" && !strings.HasPrefix(line, ":") && strings.HasPrefix(line, "data: ")
}

// processSSEChunk processes a single SSE data payload.
func (p *Provider) processSSEChunk(ctx context.Context, data string, firstChunk *bool, chunks chan<- *llm.StreamChunk) bool {
	var chunk struct {
		Choices []struct {
			Delta struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"delta"`
			FinishReason *string `json:"finish_reason"`
		} `json:"choices"`
	}

	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return true // Skip malformed chunks silently
	}

	if len(chunk.Choices) == 0 {
		return true
	}

	choice := chunk.Choices[0]
	out := &llm.StreamChunk{Content: choice.Delta.Content}

	if *firstChunk && choice.Delta.Role != "" {
		out.Role = choice.Delta.Role
		*firstChunk = false
	}

	if choice.FinishReason != nil && *choice.FinishReason == "stop" {
		out.Finished = true
	}

	if out.Content == "" && out.Role == "" && !out.Finished {
		return true
	}

	return p.sendChunk(ctx, out, chunks)
}

// sendChunk delivers a chunk unless the context has been cancelled.
func (p *Provider) sendChunk(ctx context.Context, chunk *llm.StreamChunk, chunks chan<- *llm.StreamChunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		chunks <- &llm.StreamChunk{Error: ctx.Err()}
		return false
	}
}

// Complete sends messages to the API and returns the full response.
func (p *Provider) Complete(ctx context.Context, messages []*types.Message) (*types.Message, error) {
	stream, err := p.StreamCompletion(ctx, messages)
	if err != nil {
		return nil, err
	}

	var content strings.Builder
	var role string

	for chunk := range stream {
		if chunk.IsError() {
			return nil, chunk.Error
		}
		if chunk.Role != "" {
			role = chunk.Role
		}
		content.WriteString(chunk.Content)
	}

	if role == "" {
		role = string(types.RoleAssistant)
	}

	return &types.Message{
		Role:    types.MessageRole(role),
		Content: content.String(),
	}, nil
}

// GetModelInfo returns information about the model being used.
func (p *Provider) GetModelInfo() *types.ModelInfo {
	return p.modelInfo
}

// GetModel returns the model name being used.
func (p *Provider) GetModel() string {
	return p.model
}

// GetBaseURL returns the base URL being used.
func (p *Provider) GetBaseURL() string {
	return p.baseURL
}

// convertToOpenAIMessages converts our Message format to the SDK's
// ChatCompletionMessageParamUnion format.
func convertToOpenAIMessages(messages []*types.Message) []openai.ChatCompletionMessageParamUnion {
	openaiMessages := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			openaiMessages = append(openaiMessages, openai.SystemMessage(msg.Content))
		case types.RoleUser:
			openaiMessages = append(openaiMessages, openai.UserMessage(msg.Content))
		case types.RoleAssistant:
			openaiMessages = append(openaiMessages, openai.AssistantMessage(msg.Content))
		default:
			openaiMessages = append(openaiMessages, openai.UserMessage(msg.Content))
		}
	}

	return openaiMessages
}
