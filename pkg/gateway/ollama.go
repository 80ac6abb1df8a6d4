package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// OllamaBackend implements Backend against a local Ollama server.
type OllamaBackend struct {
	baseURL         string
	httpClient      *http.Client
	maxOutputTokens int64
}

// NewOllamaBackend creates an Ollama backend for the given base URL
// (e.g. http://localhost:11434).
func NewOllamaBackend(baseURL string, maxOutputTokens int64) *OllamaBackend {
	if maxOutputTokens == 0 {
		maxOutputTokens = 4096
	}
	return &OllamaBackend{
		baseURL:         baseURL,
		httpClient:      &http.Client{Timeout: 0}, // request lifetime is bounded by ctx
		maxOutputTokens: maxOutputTokens,
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model   string        `json:"model"`
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

// Complete sends a system+user prompt pair to the given model via Ollama's
// chat endpoint and returns the accumulated response text.
func (a *OllamaBackend) Complete(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	req := ollamaChatRequest{
		Model: model,
		Messages: []ollamaMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Stream: false,
		Options: map[string]any{
			"num_predict": a.maxOutputTokens,
		},
	}

	resp, err := a.chat(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

// chat performs the HTTP request to Ollama's chat endpoint. Even with
// stream=false Ollama may answer with newline-delimited JSON chunks, so
// content is accumulated across chunks.
func (a *OllamaBackend) chat(ctx context.Context, req ollamaChatRequest) (ollamaChatResponse, error) {
	var out ollamaChatResponse

	b, err := json.Marshal(req)
	if err != nil {
		return out, fmt.Errorf("json marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/api/chat", bytes.NewReader(b))
	if err != nil {
		return out, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return out, fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return out, fmt.Errorf("ollama chat http %d: %s", resp.StatusCode, string(body))
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	var last ollamaChatResponse
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return out, fmt.Errorf("stream decode: %w (line=%q)", err, string(line))
		}
		if chunk.Error != "" {
			return out, fmt.Errorf("ollama error: %s", chunk.Error)
		}
		if chunk.Message.Content != "" {
			last.Message.Content += chunk.Message.Content
		}
		if chunk.Message.Role != "" {
			last.Message.Role = chunk.Message.Role
		}
		if chunk.Model != "" {
			last.Model = chunk.Model
		}
		last.Done = chunk.Done
		if chunk.Done {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("scan: %w", err)
	}

	return last, nil
}
