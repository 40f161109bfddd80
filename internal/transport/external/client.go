package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/ragcache/internal/domain"
	domknow "github.com/kailas-cloud/ragcache/internal/domain/knowledge"
)

const (
	defaultSourceName = "external"
	maxResponseBytes  = 4 << 20
)

// Config holds the external search API settings.
type Config struct {
	BaseURL           string
	APIKey            string
	SourceName        string // used when a document carries no source of its own
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
	Logger            *zap.Logger
}

// Client is a keyword search client for a JSON search API:
// GET {base}/search?q=..&limit=.. -> {"documents":[...]}.
type Client struct {
	http    *http.Client
	base    *url.URL
	apiKey  string
	source  string
	limiter *rate.Limiter
	logger  *zap.Logger

	mu      sync.Mutex
	retryAt time.Time
}

// NewClient validates cfg and creates a client.
func NewClient(cfg *Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid external base url %q", cfg.BaseURL)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	source := cfg.SourceName
	if source == "" {
		source = defaultSourceName
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		http:    hc,
		base:    base,
		apiKey:  cfg.APIKey,
		source:  source,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}, nil
}

type searchResponse struct {
	Documents []documentDTO `json:"documents"`
}

type documentDTO struct {
	ID       json.RawMessage `json:"id"`
	Content  string          `json:"content"`
	Source   string          `json:"source"`
	Metadata map[string]any  `json:"metadata"`
	Title    string          `json:"title"`
}

// KeywordSearch returns up to limit keyword-matching documents.
// Every failure wraps domain.ErrExternalClient.
func (c *Client) KeywordSearch(ctx context.Context, query string, limit int) ([]domknow.ExternalDocument, error) {
	if limit <= 0 {
		return nil, nil
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	u := *c.base
	u.Path += "/search"
	u.RawQuery = url.Values{"q": {query}, "limit": {strconv.Itoa(limit)}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w: %w", domain.ErrExternalClient, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("external search: %w: %w", domain.ErrExternalClient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.backoff(resp.Header.Get("Retry-After"))
		return nil, fmt.Errorf("external search: %w: %w", domain.ErrExternalClient, domain.ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("external search status %d: %s: %w",
			resp.StatusCode, strings.TrimSpace(string(snippet)), domain.ErrExternalClient)
	}

	var body searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode external response: %w: %w", domain.ErrExternalClient, err)
	}

	docs := make([]domknow.ExternalDocument, 0, len(body.Documents))
	for _, d := range body.Documents {
		if strings.TrimSpace(d.Content) == "" {
			continue
		}
		docs = append(docs, c.toDocument(d))
		if len(docs) == limit {
			break
		}
	}
	return docs, nil
}

// HealthCheck reports whether the API host answers at all. 5xx counts as down.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.base.String(), http.NoBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("external api unreachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("external api status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) toDocument(d documentDTO) domknow.ExternalDocument {
	source := d.Source
	if source == "" {
		source = c.source
	}
	id := parseID(d.ID)
	if id == "" {
		// stable across identical responses
		id = uuid.NewSHA1(uuid.NameSpaceURL, []byte(source+"\x00"+d.Content)).String()
	}
	return domknow.ExternalDocument{
		ID:         id,
		Content:    d.Content,
		SourceName: source,
		Metadata:   d.Metadata,
		Title:      d.Title,
	}
}

// parseID accepts string and numeric ids.
func parseID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// wait blocks on the token bucket; inside a Retry-After window it fails fast.
func (c *Client) wait(ctx context.Context) error {
	c.mu.Lock()
	retryAt := c.retryAt
	c.mu.Unlock()

	if time.Now().Before(retryAt) {
		return fmt.Errorf("backing off until %s: %w: %w",
			retryAt.Format(time.RFC3339), domain.ErrExternalClient, domain.ErrRateLimited)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("rate limiter: %w: %w", domain.ErrExternalClient, err)
		}
		return fmt.Errorf("rate limiter: %w: %w", domain.ErrExternalClient, domain.ErrRateLimited)
	}
	return nil
}

func (c *Client) backoff(retryAfter string) {
	delay := time.Second
	if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
		delay = time.Duration(secs) * time.Second
	}
	c.mu.Lock()
	c.retryAt = time.Now().Add(delay)
	c.mu.Unlock()
	c.logger.Warn("External API rate limited", zap.Duration("retry_after", delay))
}
