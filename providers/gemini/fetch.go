package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"arxiv-stars/config"
	"arxiv-stars/providers"

	"go.uber.org/zap"
)

var httpClient = &http.Client{Timeout: 120 * time.Second}

// Client spricht die Gemini-REST-API an.
type Client struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewClient erstellt einen neuen Gemini-Client.
func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	return &Client{Config: cfg, Logger: logger}
}

func (c *Client) Name() string {
	return "gemini"
}

// Generate implementiert providers.Generator.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if c.Config.GeminiAPIKey == "" {
		return "", fmt.Errorf("gemini api key is not configured")
	}

	payload, err := json.Marshal(GenerateRequest{
		Contents: []Content{{Role: "user", Parts: []Part{{Text: prompt}}}},
		GenerationConfig: GenerationConfig{
			Temperature: 0,
			TopP:        0.3,
			TopK:        40,
		},
	})
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		strings.TrimRight(c.Config.GeminiBaseURL, "/"), c.Config.GeminiModel, url.QueryEscape(c.Config.GeminiAPIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read gemini response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var er ErrorResponse
		_ = json.Unmarshal(body, &er)
		c.Logger.Debug("Gemini returned error",
			zap.Int("status", resp.StatusCode),
			zap.String("api_status", er.Error.Status))
		return "", &providers.APIError{
			Provider:   c.Name(),
			StatusCode: resp.StatusCode,
			Status:     er.Error.Status,
			Message:    er.Error.Message,
		}
	}

	var gr GenerateResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return "", fmt.Errorf("decode gemini response: %w", err)
	}
	if len(gr.Candidates) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	var sb strings.Builder
	for _, p := range gr.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}
