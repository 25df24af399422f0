package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// ChatClient implements llm.Completer against Ollama's /api/chat endpoint.
type ChatClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewChatClient creates an Ollama chat client.
func NewChatClient(baseURL, model string) *ChatClient {
	return &ChatClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 3 * defaultTimeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type chatReq struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

type chatResp struct {
	Message chatMessage `json:"message"`
}

// Complete sends prompt as a single user turn.
func (c *ChatClient) Complete(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error) {
	req := chatReq{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
		Options:  chatOptions{Temperature: temperature, NumPredict: maxTokens},
	}
	var resp chatResp
	if err := post(ctx, c.client, c.baseURL+"/api/chat", req, &resp); err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	if resp.Message.Content == "" {
		return "", fmt.Errorf("ollama chat: empty response")
	}
	return resp.Message.Content, nil
}
