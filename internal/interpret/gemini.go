package interpret

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DefaultGeminiModel balances latency and quality for short analyses.
const DefaultGeminiModel = "gemini-1.5-flash"

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiProvider calls the Google Gemini generateContent REST API.
type GeminiProvider struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
}

// GeminiOption configures the provider.
type GeminiOption func(*GeminiProvider)

// WithGeminiModel overrides the model name.
func WithGeminiModel(model string) GeminiOption {
	return func(p *GeminiProvider) {
		p.model = model
	}
}

// WithGeminiBaseURL overrides the API base URL (useful for testing).
func WithGeminiBaseURL(baseURL string) GeminiOption {
	return func(p *GeminiProvider) {
		p.baseURL = baseURL
	}
}

// WithGeminiHTTPClient sets a custom HTTP client.
func WithGeminiHTTPClient(hc *http.Client) GeminiOption {
	return func(p *GeminiProvider) {
		p.http = hc
	}
}

// NewGemini creates a Gemini provider.
func NewGemini(apiKey string, opts ...GeminiOption) *GeminiProvider {
	p := &GeminiProvider{
		apiKey:  apiKey,
		model:   DefaultGeminiModel,
		baseURL: geminiBaseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *GeminiProvider) Name() string { return "gemini/" + p.model }

func (p *GeminiProvider) Generate(ctx context.Context, prompt string) (string, error) {
	body := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]string{{"text": prompt}}},
		},
		"generationConfig": map[string]any{
			"temperature": 0.2,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("interpret: failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, p.model, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("interpret: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("interpret: gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("interpret: gemini returned status %d", resp.StatusCode)
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("interpret: failed to decode gemini response: %w", err)
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("interpret: gemini returned no candidates")
	}
	return result.Candidates[0].Content.Parts[0].Text, nil
}
