package news

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/tradewind/tradewind/infra/breakers"
	"github.com/tradewind/tradewind/internal/domain"
	"github.com/tradewind/tradewind/internal/net/ratelimit"
)

// Source provides optional headline context for market snapshots. News is
// strictly best-effort: a failure here never fails a trading cycle.
type Source interface {
	Headlines(ctx context.Context, assetID, assetName string) ([]domain.NewsItem, error)
}

// Fetcher pulls headlines from an upstream search API and caches them in
// redis for the configured fetch interval, so each asset hits the upstream
// at most once per interval regardless of how often cycles run.
type Fetcher struct {
	baseURL     string
	apiKey      string
	maxArticles int
	interval    time.Duration

	http    *http.Client
	limiter *ratelimit.Limiter
	breaker *breakers.Breaker
	cache   *redis.Client
	host    string
}

func NewFetcher(baseURL, apiKey string, maxArticles int, interval time.Duration, limiter *ratelimit.Limiter, cache *redis.Client) (*Fetcher, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid news base URL: %w", err)
	}
	return &Fetcher{
		baseURL:     baseURL,
		apiKey:      apiKey,
		maxArticles: maxArticles,
		interval:    interval,
		http:        &http.Client{Timeout: 10 * time.Second},
		limiter:     limiter,
		breaker:     breakers.New("news"),
		cache:       cache,
		host:        u.Host,
	}, nil
}

func cacheKey(assetID string) string { return "news:" + assetID }

// Headlines returns cached headlines when a fetch happened within the
// interval, otherwise fetches fresh ones and refreshes the cache.
func (f *Fetcher) Headlines(ctx context.Context, assetID, assetName string) ([]domain.NewsItem, error) {
	if f.apiKey == "" {
		return nil, nil
	}

	if f.cache != nil {
		data, err := f.cache.Get(ctx, cacheKey(assetID)).Bytes()
		if err == nil {
			var items []domain.NewsItem
			if err := json.Unmarshal(data, &items); err == nil {
				log.Debug().Str("asset", assetID).Int("headlines", len(items)).Msg("news served from cache")
				return items, nil
			}
		} else if err != redis.Nil {
			log.Warn().Err(err).Str("asset", assetID).Msg("news cache read failed, fetching upstream")
		}
	}

	items, err := f.fetch(ctx, assetName)
	if err != nil {
		return nil, err
	}

	if f.cache != nil {
		data, err := json.Marshal(items)
		if err == nil {
			if err := f.cache.Set(ctx, cacheKey(assetID), data, f.interval).Err(); err != nil {
				log.Warn().Err(err).Str("asset", assetID).Msg("news cache write failed")
			}
		}
	}
	return items, nil
}

type searchResponse struct {
	NewsResults []struct {
		Title string `json:"title"`
		Date  string `json:"date"`
		Link  string `json:"link"`
	} `json:"news_results"`
}

func (f *Fetcher) fetch(ctx context.Context, assetName string) ([]domain.NewsItem, error) {
	// Headlines are optional context. When the upstream budget is spent,
	// skip the fetch instead of holding the cycle open for a token.
	if !f.limiter.Allow(f.host) {
		return nil, fmt.Errorf("news rate limit exhausted for %s", f.host)
	}

	q := url.Values{}
	q.Set("engine", "google_news")
	q.Set("q", assetName+" news")
	q.Set("api_key", f.apiKey)

	var items []domain.NewsItem
	err := f.breaker.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"?"+q.Encode(), nil)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		resp, err := f.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return fmt.Errorf("news API returned HTTP %d: %s", resp.StatusCode, body)
		}

		var parsed searchResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("failed to decode news response: %w", err)
		}

		for i, r := range parsed.NewsResults {
			if i >= f.maxArticles {
				break
			}
			items = append(items, domain.NewsItem{Title: r.Title, Date: r.Date, Link: r.Link})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debug().Str("asset", assetName).Int("headlines", len(items)).Msg("news fetched")
	return items, nil
}
