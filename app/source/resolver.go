package source

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/lysyi3m/post-comb/app/campaign"
	"github.com/lysyi3m/post-comb/app/feed"
)

const (
	// PerFeedLimit bounds how many entries a single feed contributes.
	PerFeedLimit = 5

	DefaultFeedConcurrency = 4
)

type FeedFetcher interface {
	FetchFeedItems(ctx context.Context, feedURL string, limit int) ([]feed.Item, error)
}

type TrendFetcher interface {
	FetchTrendItems(ctx context.Context, query feed.TrendQuery, limit int) ([]feed.Item, error)
}

type ArticleExtractor interface {
	ExtractArticle(ctx context.Context, link string) (string, error)
}

// Resolver turns a campaign's source into an ordered, capped batch of work
// items. It never fails: collaborator errors are logged and yield fewer
// items.
type Resolver struct {
	feeds       FeedFetcher
	trends      TrendFetcher
	articles    ArticleExtractor
	filterer    *Filterer
	concurrency int
}

type Option func(*Resolver)

func WithFeedConcurrency(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func NewResolver(feeds FeedFetcher, trends TrendFetcher, articles ArticleExtractor, opts ...Option) *Resolver {
	r := &Resolver{
		feeds:       feeds,
		trends:      trends,
		articles:    articles,
		filterer:    NewFilterer(),
		concurrency: DefaultFeedConcurrency,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve returns at most limit work items for c. A limit of zero or less
// means no cap. Keyword rotation state is read but never advanced here.
func (r *Resolver) Resolve(ctx context.Context, c *campaign.Campaign, limit int) []campaign.WorkItem {
	var items []campaign.WorkItem

	switch src := c.Source.(type) {
	case campaign.KeywordsSource:
		items = r.resolveKeywords(src, limit)
	case campaign.RSSSource:
		items = r.resolveRSS(ctx, c.ID, src, limit)
	case campaign.TrendsSource:
		items = r.resolveTrends(ctx, c.ID, src, limit)
	default:
		slog.Error("Unsupported campaign source", "campaign_id", c.ID, "source", fmt.Sprintf("%T", src))
		return nil
	}

	slog.Debug("Source resolved", "campaign_id", c.ID, "items", len(items), "limit", limit)

	return items
}

func (r *Resolver) resolveKeywords(src campaign.KeywordsSource, limit int) []campaign.WorkItem {
	start := max(src.CurrentIndex, 0)
	if start >= len(src.Keywords) {
		return nil
	}

	items := make([]campaign.WorkItem, 0, len(src.Keywords)-start)
	for _, keyword := range src.Keywords[start:] {
		if reached(items, limit) {
			break
		}
		items = append(items, campaign.WorkItem{
			ID:         uuid.NewString(),
			Topic:      norm.NFC.String(strings.TrimSpace(keyword)),
			SourceType: campaign.SourceTypeKeywords,
		})
	}

	return items
}

func (r *Resolver) resolveRSS(ctx context.Context, campaignID string, src campaign.RSSSource, limit int) []campaign.WorkItem {
	if r.feeds == nil {
		slog.Warn("No feed fetcher configured", "campaign_id", campaignID)
		return nil
	}

	results := make([][]feed.Item, len(src.Feeds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, feedURL := range src.Feeds {
		g.Go(func() error {
			fetched, err := r.feeds.FetchFeedItems(gctx, feedURL, PerFeedLimit)
			if err != nil {
				slog.Warn("Failed to fetch feed", "campaign_id", campaignID, "url", feedURL, "error", err)
				return nil
			}
			results[i] = fetched
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]bool)
	var entries []feed.Item
	for _, fetched := range results {
		for _, item := range fetched {
			key := cmp.Or(item.ContentHash, feed.ContentHash(item.Title, item.Link))
			if seen[key] {
				continue
			}
			seen[key] = true
			entries = append(entries, item)
		}
	}

	entries = r.filterer.Run(entries, src.Filters)

	items := make([]campaign.WorkItem, 0, len(entries))
	for _, entry := range entries {
		if reached(items, limit) {
			break
		}

		topic := strings.TrimSpace(cmp.Or(entry.Title, entry.Link))
		if topic == "" {
			continue
		}

		item := campaign.WorkItem{
			ID:         uuid.NewString(),
			Topic:      norm.NFC.String(topic),
			SourceType: campaign.SourceTypeRSS,
			Link:       entry.Link,
			Context:    cmp.Or(entry.Content, entry.Description),
		}

		if src.ExtractContent && entry.Link != "" && r.articles != nil {
			text, err := r.articles.ExtractArticle(ctx, entry.Link)
			if err != nil {
				slog.Warn("Failed to extract article", "campaign_id", campaignID, "url", entry.Link, "error", err)
			} else {
				item.Context = text
			}
		}

		items = append(items, item)
	}

	return items
}

func (r *Resolver) resolveTrends(ctx context.Context, campaignID string, src campaign.TrendsSource, limit int) []campaign.WorkItem {
	if r.trends == nil {
		slog.Warn("No trend fetcher configured", "campaign_id", campaignID)
		return nil
	}

	topN := src.TopN
	if topN <= 0 {
		topN = campaign.DefaultTrendsTopN
	}
	if limit > 0 {
		topN = min(topN, limit)
	}

	query := feed.TrendQuery{Region: src.Region, Category: src.Category}
	trends, err := r.trends.FetchTrendItems(ctx, query, topN)
	if err != nil {
		slog.Warn("Failed to fetch trends", "campaign_id", campaignID, "region", src.Region, "error", err)
		return nil
	}

	items := make([]campaign.WorkItem, 0, min(len(trends), topN))
	for _, trend := range trends {
		if len(items) >= topN {
			break
		}
		topic := strings.TrimSpace(trend.Title)
		if topic == "" {
			continue
		}

		item := campaign.WorkItem{
			ID:         uuid.NewString(),
			Topic:      norm.NFC.String(topic),
			SourceType: campaign.SourceTypeTrends,
			Link:       trend.Link,
		}
		if trend.Traffic != "" {
			item.Context = fmt.Sprintf("Approximate search volume: %s", trend.Traffic)
		}
		items = append(items, item)
	}

	return items
}

func reached(items []campaign.WorkItem, limit int) bool {
	return limit > 0 && len(items) >= limit
}
