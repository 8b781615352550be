// Package ideas generates video ideas through an OpenAI-compatible chat completion API.
package ideas

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"creatormind/pkg/digest"
)

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("idea generation temporarily unavailable")

// Config configures a Client.
type Config struct {
	BaseURL string // e.g. https://api.openai.com/v1
	APIKey  string
	Model   string
	Timeout time.Duration
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
	Attempts    uint
	RetryDelay  time.Duration
}

// Client generates ideas via a remote model.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*digest.IdeaSet]
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a new idea generation client.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = time.Minute
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		now:    time.Now,
	}
	c.breaker = gobreaker.NewCircuitBreaker[*digest.IdeaSet](gobreaker.Settings{
		Name:        "idea-generator",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
	Temperature    float64        `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type ideaPayload struct {
	Ideas []digest.Idea `json:"ideas"`
}

// Generate asks the model for count ideas shaped by prefs.
func (c *Client) Generate(ctx context.Context, userID string, count int, prefs digest.Preferences) (*digest.IdeaSet, error) {
	set, err := c.breaker.Execute(func() (*digest.IdeaSet, error) {
		return c.generate(ctx, userID, count, prefs)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrUnavailable
	}
	return set, err
}

func (c *Client) generate(ctx context.Context, userID string, count int, prefs digest.Preferences) (*digest.IdeaSet, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: Prompt(count, prefs)},
		},
		ResponseFormat: responseFormat{Type: "json_object"},
		Temperature:    0.8,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var content string
	err = retry.Do(
		func() error {
			start := time.Now()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

			resp, err := c.http.Do(req)
			if err != nil {
				c.logger.Warn("Idea API request failed, will retry", "user_id", userID, "error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}

			switch {
			case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			case resp.StatusCode < 200 || resp.StatusCode >= 300:
				return retry.Unrecoverable(fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
			}

			var cr chatResponse
			if err := json.Unmarshal(data, &cr); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode response: %w", err))
			}
			if len(cr.Choices) == 0 {
				return errors.New("response has no choices")
			}
			content = cr.Choices[0].Message.Content

			c.logger.Info("Idea API request completed",
				"user_id", userID,
				"duration_ms", time.Since(start).Milliseconds())
			return nil
		},
		retry.Attempts(c.cfg.Attempts),
		retry.Delay(c.cfg.RetryDelay),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(c.cfg.RetryDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying idea generation after error", "attempt", n, "user_id", userID, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("generate ideas: %w", err)
	}

	ideas, err := ParseIdeas(content, count)
	if err != nil {
		return nil, err
	}
	return &digest.IdeaSet{UserID: userID, GeneratedAt: c.now().UTC(), Ideas: ideas}, nil
}

// ParseIdeas decodes the model output and keeps at most count non-empty ideas.
func ParseIdeas(content string, count int) ([]digest.Idea, error) {
	var payload ideaPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("decode ideas: %w", err)
	}

	ideas := make([]digest.Idea, 0, len(payload.Ideas))
	for _, idea := range payload.Ideas {
		idea.Title = strings.TrimSpace(idea.Title)
		if idea.Title == "" {
			continue
		}
		ideas = append(ideas, idea)
		if len(ideas) == count {
			break
		}
	}
	if len(ideas) == 0 {
		return nil, errors.New("model returned no ideas")
	}
	return ideas, nil
}

const systemPrompt = `You are a content strategist for video creators. ` +
	`Reply with a JSON object {"ideas":[{"title","hook","format","rationale","tags"}]} and nothing else.`

// Prompt builds the user message for count ideas.
func Prompt(count int, prefs digest.Preferences) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Suggest %d new video ideas for my channel.\n", count)
	if len(prefs.FocusAreas) > 0 {
		fmt.Fprintf(&b, "Focus on: %s.\n", strings.Join(prefs.FocusAreas, ", "))
	}
	if len(prefs.AvoidTopics) > 0 {
		fmt.Fprintf(&b, "Avoid: %s.\n", strings.Join(prefs.AvoidTopics, ", "))
	}
	if len(prefs.PreferredFormats) > 0 {
		fmt.Fprintf(&b, "Preferred formats: %s.\n", strings.Join(prefs.PreferredFormats, ", "))
	}
	b.WriteString("Each idea needs a one-sentence hook and a short rationale.")
	return b.String()
}
