// Package icecaststats reads listener counts from the streaming
// server's status-json.xsl endpoint (spec §9: "listener counts read
// from the streaming server"). It is a read-only, best-effort client;
// the now-playing export task treats a fetch failure as "0 listeners"
// rather than failing the whole snapshot.
package icecaststats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxBody = 1 << 20

// Source is one mount's listener count as reported by Icecast's
// status-json.xsl. Icecast reports a bare object when exactly one
// mount is live and an array under "source" when several are; both
// shapes are normalized away by Fetch.
type Source struct {
	Mount     string `json:"listenurl"`
	Listeners int    `json:"listeners"`
}

type statusDoc struct {
	Icestats struct {
		Source json.RawMessage `json:"source"`
	} `json:"icestats"`
}

// Client fetches listener counts with a bounded HTTP client.
type Client struct {
	StatusURL string
	HTTP      *http.Client
}

func New(statusURL string) *Client {
	return &Client{
		StatusURL: statusURL,
		HTTP:      &http.Client{Timeout: 3 * time.Second},
	}
}

// ListenerCount returns the listener count for the mount whose
// listenurl contains mountSubstring, or 0 if the mount isn't reporting
// or the endpoint is unreachable.
func (c *Client) ListenerCount(ctx context.Context, mountSubstring string) int {
	sources, err := c.fetch(ctx)
	if err != nil {
		return 0
	}
	for _, s := range sources {
		if mountSubstring == "" || strings.Contains(s.Mount, mountSubstring) {
			return s.Listeners
		}
	}
	return 0
}

func (c *Client) fetch(ctx context.Context) ([]Source, error) {
	if c.StatusURL == "" {
		return nil, fmt.Errorf("icecaststats: no status url configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.StatusURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("icecaststats: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, err
	}

	var doc statusDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("icecaststats: decode: %w", err)
	}
	return parseSources(doc.Icestats.Source)
}

func parseSources(raw json.RawMessage) ([]Source, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var one Source
	if err := json.Unmarshal(raw, &one); err == nil && one.Mount != "" {
		return []Source{one}, nil
	}
	var many []Source
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, fmt.Errorf("icecaststats: unrecognized source shape: %w", err)
	}
	return many, nil
}
