package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultTrendsURL = "https://trends.google.com/trending/rss"
	DefaultUserAgent = "post-comb/1.0"
	DefaultTimeout   = 30 * time.Second
	DefaultFetchRate = 2

	maxBodyBytes = 10 << 20
)

// TrendQuery selects a Google Trends daily feed.
type TrendQuery struct {
	Region   string
	Category string
}

// Client fetches feeds, trend feeds and article pages over HTTP. All
// outbound requests share one rate limiter.
type Client struct {
	httpClient *http.Client
	parser     *Parser
	extractor  *ContentExtractor
	limiter    *rate.Limiter
	userAgent  string
	trendsURL  string
}

type ClientOption func(*Client)

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithRateLimit sets the number of outbound requests per second. Zero or
// less disables limiting.
func WithRateLimit(requestsPerSecond float64) ClientOption {
	return func(c *Client) {
		if requestsPerSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		burst := max(int(requestsPerSecond), 1)
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
}

func WithUserAgent(userAgent string) ClientOption {
	return func(c *Client) {
		if userAgent != "" {
			c.userAgent = userAgent
		}
	}
}

func WithTrendsURL(trendsURL string) ClientOption {
	return func(c *Client) {
		if trendsURL != "" {
			c.trendsURL = trendsURL
		}
	}
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		parser:     NewParser(),
		extractor:  NewContentExtractor(),
		limiter:    rate.NewLimiter(rate.Limit(DefaultFetchRate), DefaultFetchRate),
		userAgent:  DefaultUserAgent,
		trendsURL:  DefaultTrendsURL,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// FetchFeedItems returns at most limit entries of the RSS or Atom feed at
// feedURL, in feed order.
func (c *Client) FetchFeedItems(ctx context.Context, feedURL string, limit int) ([]Item, error) {
	data, err := c.fetch(ctx, feedURL, "")
	if err != nil {
		return nil, err
	}

	_, items, err := c.parser.Run(data)
	if err != nil {
		return nil, err
	}

	slog.Debug("Feed fetched", "url", feedURL, "items", len(items))

	return truncate(items, limit), nil
}

// FetchTrendItems returns the top trending searches for the query's region
// and category.
func (c *Client) FetchTrendItems(ctx context.Context, query TrendQuery, limit int) ([]Item, error) {
	trendsURL, err := url.Parse(c.trendsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse trends URL: %w", err)
	}

	params := trendsURL.Query()
	if query.Region != "" {
		params.Set("geo", query.Region)
	}
	if query.Category != "" {
		params.Set("category", query.Category)
	}
	trendsURL.RawQuery = params.Encode()

	data, err := c.fetch(ctx, trendsURL.String(), "")
	if err != nil {
		return nil, err
	}

	_, items, err := c.parser.Run(data)
	if err != nil {
		return nil, err
	}

	trends := make([]Item, 0, len(items))
	for _, item := range items {
		if item.Title == "" {
			continue
		}
		trends = append(trends, item)
	}

	slog.Debug("Trends fetched", "region", query.Region, "category", query.Category, "items", len(trends))

	return truncate(trends, limit), nil
}

// ExtractArticle downloads the page at link and returns its readable text.
func (c *Client) ExtractArticle(ctx context.Context, link string) (string, error) {
	pageURL, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("failed to parse article URL: %w", err)
	}

	data, err := c.fetch(ctx, link, "text/html")
	if err != nil {
		return "", err
	}

	return c.extractor.Run(data, pageURL)
}

// fetch performs a rate-limited GET. A non-empty wantType rejects responses
// whose Content-Type does not contain it.
func (c *Client) fetch(ctx context.Context, rawURL, wantType string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to wait for rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	if wantType != "" {
		contentType := resp.Header.Get("Content-Type")
		if !strings.Contains(strings.ToLower(contentType), wantType) {
			return nil, fmt.Errorf("content type is not %s: %s", wantType, contentType)
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}

func truncate(items []Item, limit int) []Item {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
