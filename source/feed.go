package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"

	"mechwatch-notifier/pkg/watch"
)

// Feed polls a board's HTML listing page and yields posts that appeared after
// the feed was started. The first fetch only primes the seen set, so old
// posts never trigger alerts.
type Feed struct {
	client   *http.Client
	logger   *slog.Logger
	url      string
	interval time.Duration
	seen     map[string]bool
	pending  []watch.Post
	primed   bool
}

// NewFeed creates a feed over the listing at url, fetched every interval.
func NewFeed(client *http.Client, url string, interval time.Duration, logger *slog.Logger) *Feed {
	return &Feed{
		client:   client,
		logger:   logger,
		url:      url,
		interval: interval,
		seen:     make(map[string]bool),
	}
}

// Next returns the next unseen post, blocking across fetch cycles until one
// appears or ctx ends.
func (f *Feed) Next(ctx context.Context) (watch.Post, error) {
	for {
		if len(f.pending) > 0 {
			post := f.pending[0]
			f.pending = f.pending[1:]
			return post, nil
		}

		posts, err := f.fetchListing(ctx)
		if err != nil {
			return watch.Post{}, err
		}

		fresh := 0
		for _, post := range posts {
			if f.seen[post.ID] {
				continue
			}
			f.seen[post.ID] = true
			if f.primed {
				f.pending = append(f.pending, post)
				fresh++
			}
		}
		if !f.primed {
			f.primed = true
			f.logger.Info("Feed primed", "url", f.url, "known_posts", len(f.seen))
		} else if fresh > 0 {
			f.logger.Info("New posts detected", "url", f.url, "count", fresh)
		}

		if len(f.pending) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return watch.Post{}, ctx.Err()
		case <-time.After(f.interval):
		}
	}
}

// fetchListing fetches and parses one listing page.
func (f *Feed) fetchListing(ctx context.Context) ([]watch.Post, error) {
	var posts []watch.Post

	err := retry.Do(
		func() error {
			f.logger.Debug("HTTP request starting",
				"method", "GET",
				"url", f.url,
				"purpose", "fetch_listing")

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, http.NoBody)
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}

			// Browser-like headers to avoid getting blocked
			req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
			req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
			req.Header.Set("Accept-Language", "en-US,en;q=0.9")

			startTime := time.Now()
			resp, err := f.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				f.logger.Warn("HTTP request failed, will retry",
					"url", f.url,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					f.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			f.logger.Debug("HTTP request completed",
				"url", f.url,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds())

			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return retry.Unrecoverable(&AuthError{
					Op:  "fetch listing",
					Err: fmt.Errorf("HTTP %d from %s", resp.StatusCode, f.url),
				})
			}
			if resp.StatusCode != http.StatusOK {
				f.logger.Warn("HTTP request returned non-OK status, will retry", "status_code", resp.StatusCode)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			posts, err = parseListing(resp.Body)
			if err != nil {
				f.logger.Error("Failed to parse listing HTML", "error", err)
				return retry.Unrecoverable(err)
			}
			return nil
		},
		retry.Attempts(10),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			f.logger.Info("Retrying listing fetch after error", "attempt", n, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			return !IsAuthError(err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("after retries: %w", err)
	}

	return posts, nil
}

// parseListing extracts posts from a listing page. Each entry is a
// div.thing with a data-permalink attribute and an a.title link.
func parseListing(body io.Reader) ([]watch.Post, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, err
	}

	var posts []watch.Post
	doc.Find("div.thing").Each(func(_ int, sel *goquery.Selection) {
		permalink, ok := sel.Attr("data-permalink")
		if !ok {
			return
		}
		id, ok := sel.Attr("data-fullname")
		if !ok {
			id = permalink
		}
		title := strings.TrimSpace(sel.Find("a.title").First().Text())
		if title == "" {
			return
		}
		posts = append(posts, watch.Post{
			ID:        id,
			Title:     title,
			Permalink: permalink,
		})
	})

	return posts, nil
}
