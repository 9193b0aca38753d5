// Package omdb fetches movie details from the OMDb API. Lookups never fail:
// any problem yields placeholder details.
package omdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/nirvaankohli/north-pole-consensus/internal/domain"
	"github.com/nirvaankohli/north-pole-consensus/internal/metrics"
	"github.com/nirvaankohli/north-pole-consensus/lib/logger/sl"
)

const (
	serviceName     = "omdb"
	defaultTimeout  = 3 * time.Second
	maxResponseSize = 1 << 20
)

var (
	ErrNotFound   = errors.New("movie not found")
	errBadStatus  = errors.New("unexpected status code")
	errBadPayload = errors.New("unexpected response payload")
	errAbandoned  = errors.New("caller gave up")
)

type Config struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	CacheSize int64
}

type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[domain.MovieDetails]
	cache   *ristretto.Cache[string, domain.MovieDetails]
	log     *slog.Logger
}

type response struct {
	Response string `json:"Response"`
	Error    string `json:"Error"`
	Poster   string `json:"Poster"`
	Plot     string `json:"Plot"`
	Genre    string `json:"Genre"`
	Director string `json:"Director"`
	Actors   string `json:"Actors"`
}

func New(cfg Config, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	c := &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     log.With(slog.String("component", serviceName)),
	}

	if cfg.CacheSize > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config[string, domain.MovieDetails]{
			NumCounters:        cfg.CacheSize * 10,
			MaxCost:            cfg.CacheSize,
			BufferItems:        64,
			IgnoreInternalCost: true,
		})
		if err != nil {
			return nil, fmt.Errorf("omdb cache: %w", err)
		}
		c.cache = cache
	}

	c.breaker = gobreaker.NewCircuitBreaker[domain.MovieDetails](gobreaker.Settings{
		Name:        serviceName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// A title OMDb does not know is a valid answer, not an outage.
			// Neither is a caller that stopped waiting.
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, errAbandoned)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
			c.log.Warn("circuit breaker state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return c, nil
}

// Enrich returns the details for title and year, or placeholders.
func (c *Client) Enrich(ctx context.Context, title string, year int) domain.MovieDetails {
	const op = "clients.omdb.Enrich"
	log := c.log.With(
		slog.String("op", op),
		slog.String("title", title),
	)

	if c.apiKey == "" {
		metrics.RecordExternal(serviceName, "skipped")
		return domain.PlaceholderDetails()
	}

	key := cacheKey(title, year)
	if c.cache != nil {
		if details, ok := c.cache.Get(key); ok {
			metrics.RecordCacheLookup(true)
			return details
		}
		metrics.RecordCacheLookup(false)
	}

	details, err := c.breaker.Execute(func() (domain.MovieDetails, error) {
		details, err := c.fetch(ctx, title, year)
		if err != nil && ctx.Err() != nil {
			return details, fmt.Errorf("%w: %w", errAbandoned, err)
		}
		return details, err
	})
	if err != nil {
		switch {
		case errors.Is(err, errAbandoned):
			metrics.RecordExternal(serviceName, "canceled")
			log.Debug("enrichment abandoned", sl.Err(err))
			return domain.PlaceholderDetails()
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			metrics.RecordExternal(serviceName, "rejected")
		default:
			metrics.RecordExternal(serviceName, "failure")
		}
		log.Warn("enrichment failed, using placeholders", sl.Err(err))
		return domain.PlaceholderDetails()
	}

	metrics.RecordExternal(serviceName, "success")
	if c.cache != nil {
		c.cache.Set(key, details, 1)
	}
	return details
}

func (c *Client) fetch(ctx context.Context, title string, year int) (domain.MovieDetails, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := url.Values{}
	params.Set("t", title)
	if year > 0 {
		params.Set("y", strconv.Itoa(year))
	}
	params.Set("apikey", c.apiKey)

	reqURL := c.baseURL
	if strings.Contains(reqURL, "?") {
		reqURL += "&" + params.Encode()
	} else {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return domain.MovieDetails{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.MovieDetails{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.MovieDetails{}, fmt.Errorf("%w: %d", errBadStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return domain.MovieDetails{}, fmt.Errorf("read body: %w", err)
	}

	var payload response
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.MovieDetails{}, fmt.Errorf("%w: %v", errBadPayload, err)
	}
	if !strings.EqualFold(payload.Response, "True") {
		return domain.MovieDetails{}, fmt.Errorf("%w: %s", ErrNotFound, payload.Error)
	}

	return payload.details(), nil
}

func (r response) details() domain.MovieDetails {
	details := domain.MovieDetails{
		Poster:   orPlaceholder(r.Poster, domain.PlaceholderValue),
		Plot:     orPlaceholder(r.Plot, domain.PlaceholderPlot),
		Genre:    orPlaceholder(r.Genre, domain.PlaceholderValue),
		Director: orPlaceholder(r.Director, domain.PlaceholderValue),
		Actors:   orPlaceholder(r.Actors, domain.PlaceholderValue),
	}
	if details.Plot == domain.PlaceholderValue {
		details.Plot = domain.PlaceholderPlot
	}
	return details
}

func orPlaceholder(v, placeholder string) string {
	if strings.TrimSpace(v) == "" {
		return placeholder
	}
	return v
}

func cacheKey(title string, year int) string {
	return strings.ToLower(title) + "|" + strconv.Itoa(year)
}

// Close releases the cache.
func (c *Client) Close() {
	if c.cache != nil {
		c.cache.Close()
	}
}
