package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"arxiv-stars/config"
	"arxiv-stars/providers"

	"go.uber.org/zap"
)

var httpClient = &http.Client{Timeout: 120 * time.Second}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"top_p"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Client nutzt eine OpenAI-kompatible chat/completions-API (OpenAI, Groq, Ollama).
type Client struct {
	Config *config.Config
	Logger *zap.Logger
}

func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	return &Client{Config: cfg, Logger: logger}
}

func (c *Client) Name() string {
	return "openai"
}

// Generate implementiert providers.Generator.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       c.Config.OpenAIModel,
		Messages:    []message{{Role: "user", Content: prompt}},
		Temperature: 0,
		TopP:        0.3,
	})
	if err != nil {
		return "", err
	}

	endpoint := strings.TrimRight(c.Config.OpenAIBaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Config.OpenAIAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.Config.OpenAIAPIKey)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read openai response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var er errorResponse
		_ = json.Unmarshal(body, &er)
		return "", &providers.APIError{
			Provider:   c.Name(),
			StatusCode: resp.StatusCode,
			Status:     er.Error.Type,
			Message:    er.Error.Message,
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("openai returned empty choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
