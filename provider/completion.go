package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ethicsprep-backend/logger"
)

const (
	standardModel = "gemini-2.5-flash"
	thinkingModel = "gemini-3-pro-preview"

	generationAPIFormat = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"

	completionTimeout = 120 * time.Second
)

// GeminiCompleter implements CompletionProvider against the Gemini
// generateContent API. The thinking mode routes to the higher-capability
// model with an unrestricted thinking budget.
type GeminiCompleter struct {
	apiKey     string
	httpClient *http.Client
	log        *logger.Logger
	urlFormat  string
	backoff    time.Duration
}

// NewGeminiCompleter creates a completer with the given API key.
func NewGeminiCompleter(apiKey string, log *logger.Logger) *GeminiCompleter {
	return &GeminiCompleter{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: completionTimeout},
		log:        log.With("component", "gemini_completer"),
		urlFormat:  generationAPIFormat,
		backoff:    initialBackoff,
	}
}

// Complete sends a prompt to the Gemini API and returns the text completion,
// retrying transient failures with exponential backoff. Non-retryable
// provider errors (bad request, blocked prompt) fail immediately.
func (c *GeminiCompleter) Complete(ctx context.Context, prompt string, temperature float64, mode Mode) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("gemini API key not set")
	}

	var lastErr error
	backoff := c.backoff
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		result, err := c.completeOnce(ctx, prompt, temperature, mode)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var provErr *ProviderError
		if !errors.As(err, &provErr) || !provErr.Retryable {
			return "", err
		}
		c.log.Warn("completion attempt failed", "attempt", attempt+1, "error", err)
	}

	return "", lastErr
}

func (c *GeminiCompleter) completeOnce(ctx context.Context, prompt string, temperature float64, mode Mode) (string, error) {
	model := standardModel
	generationConfig := map[string]interface{}{
		"temperature": temperature,
	}
	if mode == ModeThinking {
		model = thinkingModel
		generationConfig["thinkingConfig"] = map[string]interface{}{
			"thinkingBudget": -1,
		}
	}

	reqBody := map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"parts": []map[string]interface{}{
					{"text": prompt},
				},
			},
		},
		"generationConfig": generationConfig,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf(c.urlFormat, model)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &ProviderError{Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		c.log.Warn("generation API error", "status", resp.StatusCode, "body", truncate(string(bodyBytes), 500))
		return "", &ProviderError{
			StatusCode: resp.StatusCode,
			Message:    truncate(string(bodyBytes), 500),
			Retryable:  resp.StatusCode != http.StatusBadRequest && resp.StatusCode != http.StatusUnauthorized,
		}
	}

	var apiResp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason,omitempty"`
		} `json:"candidates"`
		PromptFeedback struct {
			BlockReason string `json:"blockReason,omitempty"`
		} `json:"promptFeedback,omitempty"`
		Error struct {
			Code    int    `json:"code,omitempty"`
			Message string `json:"message,omitempty"`
		} `json:"error,omitempty"`
	}

	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return "", &ProviderError{Message: fmt.Sprintf("failed to decode response: %v", err), Retryable: true}
	}

	if apiResp.Error.Message != "" {
		return "", &ProviderError{
			StatusCode: apiResp.Error.Code,
			Message:    apiResp.Error.Message,
			Retryable:  true,
		}
	}

	if apiResp.PromptFeedback.BlockReason != "" {
		return "", &ProviderError{
			Message:   "prompt blocked: " + apiResp.PromptFeedback.BlockReason,
			Retryable: false,
		}
	}

	if len(apiResp.Candidates) == 0 {
		return "", &ProviderError{Message: "API returned no candidates", Retryable: true}
	}

	var responseText strings.Builder
	for i, candidate := range apiResp.Candidates {
		if candidate.FinishReason != "" && candidate.FinishReason != "STOP" {
			c.log.Warn("candidate finished early", "candidate", i, "finish_reason", candidate.FinishReason)
		}
		for _, part := range candidate.Content.Parts {
			responseText.WriteString(part.Text)
		}
	}

	result := responseText.String()
	if result == "" {
		return "", &ProviderError{Message: "API returned empty content", Retryable: true}
	}

	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
