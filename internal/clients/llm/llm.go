// Package llm asks a chat-completions model for catalog titles matching a
// member's stated preferences.
package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/nirvaankohli/north-pole-consensus/internal/domain"
	"github.com/nirvaankohli/north-pole-consensus/internal/metrics"
	"github.com/nirvaankohli/north-pole-consensus/lib/logger/sl"
)

const (
	serviceName     = "llm"
	temperature     = 0.7
	maxResponseSize = 4 << 20

	systemPrompt = `You are a helpful movie recommendation engine. Based on user preferences, suggest a list of movie titles that align with their interests. Provide only the titles as a JSON array of strings without any additional text or explanations. Like this: ["Movie 1", "Movie 2", "Movie 3"]. The titles must be chosen from the list you are given and spelled exactly as listed.`
)

var (
	ErrEmptyChoices = errors.New("completion has no choices")
	errBadStatus    = errors.New("unexpected status code")
	errAbandoned    = errors.New("caller gave up")

	yearSuffix = regexp.MustCompile(`^(.*\S)\s*\((\d{4})\)$`)
)

type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]domain.MovieStub]
	log     *slog.Logger
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

func New(cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}

	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.With(slog.String("component", serviceName)),
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]domain.MovieStub](gobreaker.Settings{
		Name:        serviceName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errAbandoned)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
			c.log.Warn("circuit breaker state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return c
}

// Suggest returns titles the model picked for preferences out of catalog.
// It returns an empty list on any failure.
func (c *Client) Suggest(ctx context.Context, preferences string, catalog []string) []domain.MovieStub {
	const op = "clients.llm.Suggest"
	log := c.log.With(slog.String("op", op))

	if c.cfg.APIKey == "" {
		metrics.RecordExternal(serviceName, "skipped")
		return []domain.MovieStub{}
	}
	if strings.TrimSpace(preferences) == "" {
		return []domain.MovieStub{}
	}

	stubs, err := c.breaker.Execute(func() ([]domain.MovieStub, error) {
		stubs, err := c.complete(ctx, preferences, catalog)
		if err != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", errAbandoned, err)
		}
		return stubs, err
	})
	if err != nil {
		switch {
		case errors.Is(err, errAbandoned):
			metrics.RecordExternal(serviceName, "canceled")
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			metrics.RecordExternal(serviceName, "rejected")
		default:
			metrics.RecordExternal(serviceName, "failure")
		}
		log.Warn("title suggestion failed", sl.Err(err))
		return []domain.MovieStub{}
	}

	metrics.RecordExternal(serviceName, "success")
	log.Debug("titles suggested", slog.Int("count", len(stubs)))
	return stubs
}

func (c *Client) complete(ctx context.Context, preferences string, catalog []string) ([]domain.MovieStub, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	listed, err := json.Marshal(catalog)
	if err != nil {
		return nil, fmt.Errorf("marshal catalog: %w", err)
	}

	body, err := json.Marshal(completionRequest{
		Model: c.cfg.Model,
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf(
				"Based on the following user preferences, suggest a list of movie titles that align with their interests: %s Here is the list of movies to choose from: %s",
				preferences, listed,
			)},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d", errBadStatus, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var completion completionResponse
	if err := json.Unmarshal(raw, &completion); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, ErrEmptyChoices
	}

	return ParseTitles(completion.Choices[0].Message.Content)
}

// ParseTitles reads the JSON array of titles in a model reply. Code fences
// around the array are tolerated and a trailing "(YYYY)" becomes the year.
func ParseTitles(content string) ([]domain.MovieStub, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no title array in reply %q", truncate(content, 80))
	}

	var titles []string
	if err := json.Unmarshal([]byte(content[start:end+1]), &titles); err != nil {
		return nil, fmt.Errorf("decode title array: %w", err)
	}

	stubs := make([]domain.MovieStub, 0, len(titles))
	seen := make(map[string]struct{}, len(titles))
	for _, title := range titles {
		stub := domain.MovieStub{Title: strings.TrimSpace(title)}
		if m := yearSuffix.FindStringSubmatch(stub.Title); m != nil {
			stub.Title = m[1]
			stub.Year, _ = strconv.Atoi(m[2])
		}
		if stub.Title == "" {
			continue
		}
		if _, ok := seen[stub.Title]; ok {
			continue
		}
		seen[stub.Title] = struct{}{}
		stubs = append(stubs, stub)
	}
	return stubs, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
