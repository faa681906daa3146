package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	DefaultQAURL   = "https://api.deepseek.com/v1/chat/completions"
	DefaultQAModel = "deepseek-chat"
	QATimeout      = 20 * time.Second
)

// QAClient asks a chat-completions endpoint for an answer.
type QAClient struct {
	URL     string
	Model   string
	Timeout time.Duration

	hc *http.Client
}

// NewQAClient returns a client that authenticates with apiKey as a bearer
// token. Empty url or model select the defaults.
func NewQAClient(apiKey, url, model string) *QAClient {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiKey, TokenType: "Bearer"})
	return newQAClient(oauth2.NewClient(context.Background(), ts), url, model)
}

func newQAClient(hc *http.Client, url, model string) *QAClient {
	if url == "" {
		url = DefaultQAURL
	}
	if model == "" {
		model = DefaultQAModel
	}
	return &QAClient{URL: url, Model: model, Timeout: QATimeout, hc: hc}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Ask sends prompt as a single user message and returns
// choices[0].message.content.
func (c *QAClient) Ask(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	payload, err := json.Marshal(completionRequest{
		Model:    c.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := do(c.hc, "qa", req)
	if err != nil {
		return "", fmt.Errorf("qa request: %w", err)
	}
	var out completionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("qa response: %w: %v", errDecode, err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", ErrEmpty
	}
	return out.Choices[0].Message.Content, nil
}
