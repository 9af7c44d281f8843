package openai_provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Embedding dimensionalities for the two precision modes. The reduced mode
// trades accuracy for latency on interactive paths.
const (
	ReducedDimensions = 512
	FullDimensions    = 1536
)

// maxEmbeddingChars bounds the text submitted for embedding so oversized
// passages do not fail the whole request.
const maxEmbeddingChars = 8000

// Message represents a message in a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options configures the client.
type Options struct {
	APIKey          string
	BaseURL         string
	CompletionModel string
	EmbeddingModel  string
	Temperature     float64
	MaxTokens       int
	Dimensions      int
	Timeout         time.Duration
}

// Client talks to the OpenAI chat-completions and embeddings APIs.
type Client struct {
	apiKey          string
	baseURL         string
	completionModel string
	embeddingModel  string
	temperature     float64
	maxTokens       int
	dimensions      int
	httpClient      *http.Client
}

// NewClient creates a new OpenAI client
func NewClient(opts Options) *Client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dims := opts.Dimensions
	if dims <= 0 {
		dims = FullDimensions
	}
	return &Client{
		apiKey:          opts.APIKey,
		baseURL:         strings.TrimSuffix(baseURL, "/"),
		completionModel: opts.CompletionModel,
		embeddingModel:  opts.EmbeddingModel,
		temperature:     opts.Temperature,
		maxTokens:       opts.MaxTokens,
		dimensions:      dims,
		httpClient:      &http.Client{Timeout: timeout},
	}
}

// Dimensions returns the active embedding dimensionality.
func (c *Client) Dimensions() int { return c.dimensions }

// Embed generates an embedding for the given text using OpenAI's API.
// Input is truncated to the character budget before submission.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if len(text) > maxEmbeddingChars {
		text = text[:maxEmbeddingChars]
	}

	requestBody := map[string]interface{}{
		"model":      c.embeddingModel,
		"input":      text,
		"dimensions": c.dimensions,
	}
	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embeddings API returned status: %d", resp.StatusCode)
	}

	var openaiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&openaiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(openaiResp.Data) == 0 {
		return nil, fmt.Errorf("no embedding in response")
	}
	vec := openaiResp.Data[0].Embedding
	if len(vec) != c.dimensions {
		return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(vec), c.dimensions)
	}
	return vec, nil
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// Complete sends a chat request and returns the full response text.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.completionModel,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat API returned status: %d", resp.StatusCode)
	}

	var openaiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&openaiResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(openaiResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return openaiResp.Choices[0].Message.Content, nil
}

// CompleteStream sends a streaming chat request. Text deltas arrive on the
// first channel in generation order; the channel is closed when the stream
// ends. A terminal failure is delivered on the error channel. The producer
// goroutine exits as soon as ctx is cancelled, so an abandoned consumer does
// not leak the upstream call.
func (c *Client) CompleteStream(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	deltas := make(chan string, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(deltas)
		defer close(errCh)

		body, err := json.Marshal(chatRequest{
			Model:       c.completionModel,
			Messages:    messages,
			Temperature: c.temperature,
			MaxTokens:   c.maxTokens,
			Stream:      true,
		})
		if err != nil {
			errCh <- fmt.Errorf("failed to marshal request: %w", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewBuffer(body))
		if err != nil {
			errCh <- fmt.Errorf("failed to create request: %w", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "text/event-stream")

		// The client timeout would kill long generations mid-stream, so
		// streaming relies on ctx for cancellation instead.
		streamClient := &http.Client{Transport: c.httpClient.Transport}
		resp, err := streamClient.Do(req)
		if err != nil {
			errCh <- fmt.Errorf("failed to send request: %w", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			errCh <- fmt.Errorf("chat API returned status: %d", resp.StatusCode)
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				return
			}
			var chunk struct {
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
				} `json:"choices"`
			}
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			select {
			case deltas <- chunk.Choices[0].Delta.Content:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("stream read failed: %w", err)
		}
	}()

	return deltas, errCh
}
