// Package flights pulls per-airport arrival counts from an
// OpenSky-style live flight API behind a rotating OAuth2 credential
// pool.
package flights

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/checkpointcast/internal/httputil"
	"github.com/lox/checkpointcast/internal/metrics"
	"github.com/lox/checkpointcast/internal/models"
)

// Airports reporting fewer arrivals than this for a whole day are
// partial responses; the count is stored as unknown, not as a number.
const minDailyArrivals = 10

const defaultBaseURL = "https://opensky-network.org/api"

// hubICAO maps the monitored IATA hub codes to the ICAO identifiers
// the flight API speaks.
var hubICAO = map[string]string{
	"ATL": "KATL", "ORD": "KORD", "DFW": "KDFW", "DEN": "KDEN",
	"JFK": "KJFK", "EWR": "KEWR", "LAX": "KLAX", "SFO": "KSFO",
	"SEA": "KSEA", "MSP": "KMSP", "BOS": "KBOS", "DTW": "KDTW",
	"CLT": "KCLT", "PHL": "KPHL", "IAH": "KIAH",
}

type Client struct {
	baseURL string
	rotator *Rotator
	client  *http.Client
	clock   clockwork.Clock
	hubs    []models.Hub
}

func NewClient(rotator *Rotator, hubs []models.Hub) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		rotator: rotator,
		client:  httputil.NewClient(),
		clock:   clockwork.NewRealClock(),
		hubs:    hubs,
	}
}

// NewClientWithBase exists for tests pointing at a local server.
func NewClientWithBase(baseURL string, rotator *Rotator, hubs []models.Hub, client *http.Client, clock clockwork.Clock) *Client {
	return &Client{baseURL: baseURL, rotator: rotator, client: client, clock: clock, hubs: hubs}
}

// FetchDay fetches arrival counts for every monitored hub for one UTC
// day. Hubs that fail after credential exhaustion are reported as
// unknown rather than aborting the day.
func (c *Client) FetchDay(ctx context.Context, date time.Time) ([]models.FlightVolumeObservation, error) {
	out := make([]models.FlightVolumeObservation, 0, len(c.hubs))
	for _, hub := range c.hubs {
		count, err := c.fetchArrivals(ctx, hub, date)
		obs := models.FlightVolumeObservation{
			Date:      date,
			Airport:   hub.Code,
			FetchedAt: c.clock.Now().UTC(),
		}
		switch {
		case err != nil:
			log.Printf("flights: %s %s: %v", hub.Code, date.Format("2006-01-02"), err)
		case count >= minDailyArrivals:
			obs.Arrivals = sql.NullInt64{Int64: int64(count), Valid: true}
		default:
			log.Printf("flights: %s %s: %d arrivals below sanity floor, storing unknown", hub.Code, date.Format("2006-01-02"), count)
		}
		out = append(out, obs)
	}
	return out, nil
}

type arrivalRecord struct {
	ICAO24    string `json:"icao24"`
	FirstSeen int64  `json:"firstSeen"`
	LastSeen  int64  `json:"lastSeen"`
}

// fetchArrivals counts arrivals at one hub for one UTC day, rotating
// credentials on rejection. It gives up after every credential plus
// one retry of the first has been tried.
func (c *Client) fetchArrivals(ctx context.Context, hub models.Hub, date time.Time) (int, error) {
	icao, ok := hubICAO[hub.Code]
	if !ok {
		return 0, fmt.Errorf("no ICAO mapping for %s", hub.Code)
	}

	begin := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	end := begin.AddDate(0, 0, 1)
	now := c.clock.Now().UTC()

	// The API rejects windows reaching into the future: clamp the end,
	// and a window entirely in the future has zero arrivals by
	// definition, no request needed.
	if begin.After(now) {
		return 0, nil
	}
	if end.After(now) {
		end = now
	}

	url := fmt.Sprintf("%s/flights/arrival?airport=%s&begin=%d&end=%d", c.baseURL, icao, begin.Unix(), end.Unix())

	attempts := c.rotator.Size() + 1
	for attempt := 0; attempt < attempts; attempt++ {
		token, err := c.rotator.Token(ctx)
		if err != nil {
			log.Printf("flights: token grant failed, rotating: %v", err)
			c.rotator.Rotate()
			continue
		}

		count, retry, err := c.doArrivals(ctx, url, token)
		if err != nil {
			return 0, err
		}
		if retry {
			c.rotator.Rotate()
			continue
		}
		return count, nil
	}
	return 0, ErrUnavailable
}

func (c *Client) doArrivals(ctx context.Context, url, token string) (count int, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, false, fmt.Errorf("fetch arrivals: %w", err)
	}
	defer resp.Body.Close()
	metrics.UpstreamLatency.WithLabelValues("flights", "arrivals").Observe(time.Since(start).Seconds())
	metrics.UpstreamCallsTotal.WithLabelValues("flights", "arrivals", fmt.Sprintf("%d", resp.StatusCode)).Inc()

	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusUnauthorized:
		return 0, true, nil
	case http.StatusNotFound:
		// The API answers 404 for windows with no arrivals.
		return 0, false, nil
	case http.StatusOK:
	default:
		b, _ := io.ReadAll(resp.Body)
		return 0, false, fmt.Errorf("fetch arrivals: status %d: %s", resp.StatusCode, string(b))
	}

	var records []arrivalRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return 0, false, fmt.Errorf("decode arrivals: %w", err)
	}
	return len(records), false, nil
}
