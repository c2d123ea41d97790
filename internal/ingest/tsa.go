package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/checkpointcast/internal/httputil"
	"github.com/lox/checkpointcast/internal/metrics"
	"github.com/lox/checkpointcast/internal/models"
)

const defaultThroughputURL = "https://www.tsa.gov/travel/passenger-volumes?output=json"

// ThroughputClient fetches the published daily checkpoint totals.
type ThroughputClient struct {
	url    string
	client *http.Client
}

func NewThroughputClient() *ThroughputClient {
	return &ThroughputClient{url: defaultThroughputURL, client: httputil.NewClient()}
}

// NewThroughputClientWithURL exists for tests pointing at a local server.
func NewThroughputClientWithURL(url string, client *http.Client) *ThroughputClient {
	return &ThroughputClient{url: url, client: client}
}

type throughputEntry struct {
	Date      string `json:"Date"`
	Travelers string `json:"Travelers"`
}

// Fetch returns every published daily observation the feed currently
// carries. Rows that fail to parse are skipped, not fatal: the feed's
// formatting drifts.
func (c *ThroughputClient) Fetch(ctx context.Context) ([]models.DailyObservation, error) {
	var body []byte
	operation := func() error {
		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("fetch throughput: %w", err))
		}
		defer resp.Body.Close()
		metrics.UpstreamLatency.WithLabelValues("tsa", "volumes").Observe(time.Since(start).Seconds())
		metrics.UpstreamCallsTotal.WithLabelValues("tsa", "volumes", fmt.Sprintf("%d", resp.StatusCode)).Inc()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
			return fmt.Errorf("throttled: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("fetch throughput: status %d: %s", resp.StatusCode, string(b)))
		}
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}

	var entries []throughputEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("ingest: unmarshal throughput: %w", err)
	}

	var out []models.DailyObservation
	for _, e := range entries {
		date, err := time.Parse("1/2/2006", strings.TrimSpace(e.Date))
		if err != nil {
			continue
		}
		count, err := strconv.ParseInt(strings.ReplaceAll(strings.TrimSpace(e.Travelers), ",", ""), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, models.DailyObservation{
			Date:       date,
			Throughput: sql.NullInt64{Int64: count, Valid: true},
		})
	}
	return out, nil
}
