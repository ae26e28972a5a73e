package llm

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

	"golang.org/x/time/rate"

	"InsightDigest/internal/config"
	"InsightDigest/internal/domain"
	"InsightDigest/internal/ports"
	"InsightDigest/internal/retry"
)

const (
	scoreMaxTokens     = 200
	narrativeMaxTokens = 220
)

// ChatGPTClient implements ports.Scorer and ports.Narrator backed by
// OpenAI-compatible chat completion APIs.
type ChatGPTClient struct {
	endpoint   string
	model      string
	apiKey     string
	limiter    *rate.Limiter
	policy     *retry.Policy
	httpClient *http.Client
}

var (
	_ ports.Scorer   = (*ChatGPTClient)(nil)
	_ ports.Narrator = (*ChatGPTClient)(nil)
)

// NewChatGPTClient builds a client from configuration.
func NewChatGPTClient(cfg config.ChatGPTConfig) *ChatGPTClient {
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}
	return &ChatGPTClient{
		endpoint:   cfg.Endpoint,
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		limiter:    rate.NewLimiter(limit, 1),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type assessmentPayload struct {
	Score   float64 `json:"score"`
	Summary string  `json:"summary"`
}

// WithRetry retries transient completion failures under policy.
func (c *ChatGPTClient) WithRetry(policy retry.Policy) *ChatGPTClient {
	c.policy = &policy
	return c
}

// ScoreAndSummarize asks the model for a relevance score and a two sentence summary.
func (c *ChatGPTClient) ScoreAndSummarize(ctx context.Context, candidate domain.NewsCandidate, profile domain.TopicProfile) (domain.Assessment, error) {
	content, err := c.complete(ctx, scoringPrompt(candidate, profile), scoreMaxTokens)
	if err != nil {
		return domain.Assessment{}, err
	}

	var payload assessmentPayload
	if err := json.Unmarshal([]byte(stripFences(content)), &payload); err != nil {
		return domain.Assessment{}, fmt.Errorf("malformed assessment for %s: %w", candidate.ID, err)
	}
	if payload.Score < 0 || payload.Score > 1 {
		return domain.Assessment{}, fmt.Errorf("assessment score %.2f out of range for %s", payload.Score, candidate.ID)
	}

	return domain.Assessment{
		Score:   payload.Score,
		Summary: strings.TrimSpace(payload.Summary),
	}, nil
}

// Narrate summarizes traffic comparisons in two or three sentences.
func (c *ChatGPTClient) Narrate(ctx context.Context, comparisons []domain.TrendComparison) (string, error) {
	prompt, err := narrativePrompt(comparisons)
	if err != nil {
		return "", err
	}
	content, err := c.complete(ctx, prompt, narrativeMaxTokens)
	if err != nil {
		return "", err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", errors.New("empty narrative")
	}
	return content, nil
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *ChatGPTClient) complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if c == nil {
		return "", fmt.Errorf("chatgpt client is nil")
	}
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return "", fmt.Errorf("chatgpt client misconfigured")
	}
	if c.policy == nil {
		return c.completeOnce(ctx, prompt, maxTokens)
	}

	var content string
	err := retry.Do(ctx, *c.policy, func(ctx context.Context) error {
		var callErr error
		content, callErr = c.completeOnce(ctx, prompt, maxTokens)
		return callErr
	})
	return content, err
}

func (c *ChatGPTClient) completeOnce(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"model":       c.model,
		"max_tokens":  maxTokens,
		"temperature": 0.2,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chatgpt payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("chatgpt error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return "", fmt.Errorf("%w: %w", domain.ErrTransientFetch, err)
		}
		return "", err
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode chatgpt response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("chatgpt returned no choices")
	}
	return decoded.Choices[0].Message.Content, nil
}

// stripFences removes a surrounding ```json block some models emit.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimPrefix(content, "json")
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}
