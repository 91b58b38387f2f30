package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lysyi3m/post-comb/app/campaign"
)

const (
	DefaultPublishTimeout = 5 * time.Minute

	maxErrorBody = 512
)

// Request is the payload sent to the publish pipeline for one work item.
type Request struct {
	Campaign CampaignRef       `json:"campaign"`
	Item     campaign.WorkItem `json:"item"`
	Site     SiteStatus        `json:"site"`
}

type CampaignRef struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	SourceType  campaign.SourceType `json:"source_type"`
}

func NewRequest(c *campaign.Campaign, item campaign.WorkItem, site SiteStatus) Request {
	ref := CampaignRef{ID: c.ID, Name: c.Name, Description: c.Description}
	if c.Source != nil {
		ref.SourceType = c.Source.Type()
	}
	return Request{Campaign: ref, Item: item, Site: site}
}

// Publication reports what the pipeline did with one item. Generated is set
// when the pipeline ran a content generation step.
type Publication struct {
	PostURL   string   `json:"post_url"`
	Generated bool     `json:"generated"`
	Stages    []string `json:"stages"`
	Error     string   `json:"error,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, req Request) (*Publication, error)
}

// WebhookPublisher posts each request as JSON to an HTTP endpoint.
type WebhookPublisher struct {
	url        string
	token      string
	userAgent  string
	httpClient *http.Client
}

type WebhookOption func(*WebhookPublisher)

func WithToken(token string) WebhookOption {
	return func(p *WebhookPublisher) {
		p.token = token
	}
}

func WithUserAgent(userAgent string) WebhookOption {
	return func(p *WebhookPublisher) {
		p.userAgent = userAgent
	}
}

func WithHTTPClient(httpClient *http.Client) WebhookOption {
	return func(p *WebhookPublisher) {
		p.httpClient = httpClient
	}
}

func NewWebhookPublisher(url string, opts ...WebhookOption) *WebhookPublisher {
	p := &WebhookPublisher{
		url:        url,
		httpClient: &http.Client{Timeout: DefaultPublishTimeout},
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (p *WebhookPublisher) Publish(ctx context.Context, req Request) (*Publication, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode publish request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if p.userAgent != "" {
		httpReq.Header.Set("User-Agent", p.userAgent)
	}
	if p.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call pipeline: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("pipeline returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var publication Publication
	if err := json.NewDecoder(resp.Body).Decode(&publication); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode pipeline response: %w", err)
	}

	if publication.Error != "" {
		return nil, fmt.Errorf("pipeline reported failure: %s", publication.Error)
	}

	return &publication, nil
}
