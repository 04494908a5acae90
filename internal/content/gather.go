package content

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/airwaveops/radiod/internal/radioerr"
)

// Inputs is what step 1 of generation gathers: weather and/or news.
// Either half may be empty if its fetch failed; both empty is the
// noInput terminal case.
type Inputs struct {
	Weather string
	News    []string
}

const maxFetchBody = 1 << 20 // 1MiB cap on any single fetch

// httpFetcher performs a single bounded GET, returning the response
// body bytes. It is an interface so tests can stub network access.
type httpFetcher interface {
	Get(ctx context.Context, url string, timeout time.Duration) ([]byte, error)
}

type defaultHTTPFetcher struct{}

func (defaultHTTPFetcher) Get(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
}

// gatherInputs fetches weather and news in parallel, each under its own
// hard timeout, and never hands a raw URL to the feed parser — only a
// pre-fetched, size-bounded byte buffer, so a misbehaving feed endpoint
// can never block gofeed's internal I/O indefinitely (spec §9's
// re-architecting note about feed libraries blocking unboundedly).
func (g *Generator) gatherInputs(ctx context.Context) (Inputs, error) {
	var (
		wg         sync.WaitGroup
		weather    string
		weatherErr error
		news       []string
		newsErr    error
	)

	if g.cfg.WeatherURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			weather, weatherErr = g.fetchWeather(ctx)
		}()
	} else {
		weatherErr = fmt.Errorf("no weather url configured")
	}

	if len(g.cfg.NewsFeeds) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			news, newsErr = g.fetchNews(ctx)
		}()
	} else {
		newsErr = fmt.Errorf("no news feeds configured")
	}

	wg.Wait()

	if weatherErr != nil && newsErr != nil {
		return Inputs{}, fmt.Errorf("%w: weather=%v news=%v", radioerr.NoInput, weatherErr, newsErr)
	}
	return Inputs{Weather: weather, News: news}, nil
}

func (g *Generator) fetchWeather(ctx context.Context) (string, error) {
	body, err := g.httpGet.Get(ctx, g.cfg.WeatherURL, g.cfg.FetchTimeout)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// fetchNews fetches each configured feed independently; a single bad
// feed does not prevent the others from contributing headlines, and the
// overall fetch only fails if none of the feeds produced a usable item.
func (g *Generator) fetchNews(ctx context.Context) ([]string, error) {
	type feedResult struct {
		headlines []string
		err       error
	}
	results := make([]feedResult, len(g.cfg.NewsFeeds))

	var wg sync.WaitGroup
	for i, url := range g.cfg.NewsFeeds {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			body, err := g.httpGet.Get(ctx, url, g.cfg.FetchTimeout)
			if err != nil {
				results[i] = feedResult{err: err}
				return
			}
			headlines, err := parseFeedHeadlines(body)
			results[i] = feedResult{headlines: headlines, err: err}
		}(i, url)
	}
	wg.Wait()

	var all []string
	var lastErr error
	for _, r := range results {
		if r.err != nil {
			lastErr = r.err
			continue
		}
		all = append(all, r.headlines...)
	}
	if len(all) == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("no feed items")
		}
		return nil, lastErr
	}
	return all, nil
}

const maxHeadlinesPerFeed = 5

func parseFeedHeadlines(body []byte) ([]string, error) {
	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	var headlines []string
	for i, item := range feed.Items {
		if i >= maxHeadlinesPerFeed {
			break
		}
		if item.Title == "" {
			continue
		}
		headlines = append(headlines, item.Title)
	}
	return headlines, nil
}
