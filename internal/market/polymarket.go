// Package market snapshots prediction-market sentiment about upcoming
// checkpoint volume, as a qualitative companion to the model's own
// forecast.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/checkpointcast/internal/httputil"
	"github.com/lox/checkpointcast/internal/metrics"
	"github.com/lox/checkpointcast/internal/models"
)

const defaultBaseURL = "https://gamma-api.polymarket.com"

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient() *Client {
	return &Client{baseURL: defaultBaseURL, client: httputil.NewClient()}
}

// NewClientWithBase exists for tests pointing at a local server.
func NewClientWithBase(baseURL string, client *http.Client) *Client {
	return &Client{baseURL: baseURL, client: client}
}

type eventResponse struct {
	Slug    string `json:"slug"`
	Markets []struct {
		Question       string `json:"question"`
		GroupItemTitle string `json:"groupItemTitle"`
		OutcomePrices  string `json:"outcomePrices"` // JSON array encoded as a string
		Volume         string `json:"volume"`
	} `json:"markets"`
}

// FetchEvent returns one snapshot per outcome of the event with the
// given slug, labelled with the cleaned outcome names.
func (c *Client) FetchEvent(ctx context.Context, slug string) ([]models.MarketSnapshot, error) {
	fullURL := c.baseURL + "/events?slug=" + url.QueryEscape(slug)

	var body []byte
	operation := func() error {
		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("fetch event: %w", err))
		}
		defer resp.Body.Close()
		metrics.UpstreamLatency.WithLabelValues("polymarket", "events").Observe(time.Since(start).Seconds())
		metrics.UpstreamCallsTotal.WithLabelValues("polymarket", "events", fmt.Sprintf("%d", resp.StatusCode)).Inc()

		if resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("rate limited: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("fetch event: status %d: %s", resp.StatusCode, string(b)))
		}
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = time.Minute
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}

	var events []eventResponse
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("market: unmarshal: %w", err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("market: no event for slug %q", slug)
	}

	now := time.Now().UTC()
	var out []models.MarketSnapshot
	for _, m := range events[0].Markets {
		prob, ok := yesPrice(m.OutcomePrices)
		if !ok {
			continue
		}
		snap := models.MarketSnapshot{
			CapturedAt:   now,
			EventSlug:    slug,
			OutcomeLabel: CleanLabel(m.GroupItemTitle, m.Question),
			Probability:  prob,
		}
		if v, err := strconv.ParseFloat(m.Volume, 64); err == nil {
			snap.Volume.Float64 = v
			snap.Volume.Valid = true
		}
		out = append(out, snap)
	}
	return out, nil
}

// yesPrice pulls the first (yes) price out of the doubly-encoded
// outcome price array.
func yesPrice(encoded string) (float64, bool) {
	var prices []string
	if err := json.Unmarshal([]byte(encoded), &prices); err != nil || len(prices) == 0 {
		return 0, false
	}
	p, err := strconv.ParseFloat(prices[0], 64)
	if err != nil {
		return 0, false
	}
	return p, true
}

// CleanLabel normalizes an outcome name for display: prefer the short
// group title, fall back to stripping the question boilerplate.
func CleanLabel(groupTitle, question string) string {
	label := strings.TrimSpace(groupTitle)
	if label == "" {
		label = strings.TrimSpace(question)
	}
	label = strings.TrimSuffix(label, "?")
	for _, prefix := range []string{"Will TSA check-ins be ", "Will TSA screen ", "Will there be "} {
		if strings.HasPrefix(label, prefix) {
			label = label[len(prefix):]
			break
		}
	}
	return strings.Join(strings.Fields(label), " ")
}
