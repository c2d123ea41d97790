package weather

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lox/checkpointcast/internal/httputil"
	"github.com/lox/checkpointcast/internal/metrics"
	"github.com/lox/checkpointcast/internal/models"
)

const (
	defaultArchiveURL  = "https://archive-api.open-meteo.com/v1/archive"
	defaultForecastURL = "https://api.open-meteo.com/v1/forecast"

	dailyVars = "snowfall_sum,windspeed_10m_max,precipitation_sum,temperature_2m_min,temperature_2m_mean"
)

// DefaultHubs are the monitored airports whose weather drives the
// national severity index.
var DefaultHubs = []models.Hub{
	{Code: "ATL", Name: "Atlanta Hartsfield-Jackson", Lat: 33.6407, Lon: -84.4277},
	{Code: "ORD", Name: "Chicago O'Hare", Lat: 41.9742, Lon: -87.9073},
	{Code: "DFW", Name: "Dallas/Fort Worth", Lat: 32.8998, Lon: -97.0403},
	{Code: "DEN", Name: "Denver", Lat: 39.8561, Lon: -104.6737},
	{Code: "JFK", Name: "New York JFK", Lat: 40.6413, Lon: -73.7781},
	{Code: "EWR", Name: "Newark Liberty", Lat: 40.6895, Lon: -74.1745},
	{Code: "LAX", Name: "Los Angeles", Lat: 33.9416, Lon: -118.4085},
	{Code: "SFO", Name: "San Francisco", Lat: 37.6213, Lon: -122.3790},
	{Code: "SEA", Name: "Seattle-Tacoma", Lat: 47.4502, Lon: -122.3088},
	{Code: "MSP", Name: "Minneapolis-St Paul", Lat: 44.8848, Lon: -93.2223},
	{Code: "BOS", Name: "Boston Logan", Lat: 42.3656, Lon: -71.0096},
	{Code: "DTW", Name: "Detroit Metro", Lat: 42.2162, Lon: -83.3554},
	{Code: "CLT", Name: "Charlotte Douglas", Lat: 35.2140, Lon: -80.9431},
	{Code: "PHL", Name: "Philadelphia", Lat: 39.8729, Lon: -75.2437},
	{Code: "IAH", Name: "Houston Bush", Lat: 29.9902, Lon: -95.3368},
}

// Client fetches daily hub weather from the archive and forecast
// endpoints of an Open-Meteo-compatible service.
type Client struct {
	archiveURL  string
	forecastURL string
	client      *http.Client
}

func NewClient() *Client {
	return &Client{
		archiveURL:  defaultArchiveURL,
		forecastURL: defaultForecastURL,
		client:      httputil.NewClient(),
	}
}

// NewClientWithURLs exists for tests pointing at a local server.
func NewClientWithURLs(archiveURL, forecastURL string, client *http.Client) *Client {
	return &Client{archiveURL: archiveURL, forecastURL: forecastURL, client: client}
}

type dailyResponse struct {
	Daily struct {
		Time     []string   `json:"time"`
		Snowfall []*float64 `json:"snowfall_sum"`
		WindMax  []*float64 `json:"windspeed_10m_max"`
		Precip   []*float64 `json:"precipitation_sum"`
		TempMin  []*float64 `json:"temperature_2m_min"`
		TempMean []*float64 `json:"temperature_2m_mean"`
	} `json:"daily"`
}

// FetchArchive returns observed daily weather for one hub over a
// closed date range.
func (c *Client) FetchArchive(ctx context.Context, hub models.Hub, start, end time.Time) ([]models.HubWeather, error) {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", hub.Lat))
	q.Set("longitude", fmt.Sprintf("%.4f", hub.Lon))
	q.Set("start_date", start.Format("2006-01-02"))
	q.Set("end_date", end.Format("2006-01-02"))
	q.Set("daily", dailyVars)
	q.Set("timezone", "UTC")
	return c.fetch(ctx, c.archiveURL+"?"+q.Encode(), hub, "archive", false)
}

// FetchForecast returns forecast daily weather for one hub for the
// next `days` days.
func (c *Client) FetchForecast(ctx context.Context, hub models.Hub, days int) ([]models.HubWeather, error) {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", hub.Lat))
	q.Set("longitude", fmt.Sprintf("%.4f", hub.Lon))
	q.Set("forecast_days", fmt.Sprintf("%d", days))
	q.Set("daily", dailyVars)
	q.Set("timezone", "UTC")
	return c.fetch(ctx, c.forecastURL+"?"+q.Encode(), hub, "forecast", true)
}

func (c *Client) fetch(ctx context.Context, fullURL string, hub models.Hub, endpoint string, isForecast bool) ([]models.HubWeather, error) {
	var body []byte
	operation := func() error {
		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("fetch %s: %w", endpoint, err))
		}
		defer resp.Body.Close()
		metrics.UpstreamLatency.WithLabelValues("openmeteo", endpoint).Observe(time.Since(start).Seconds())
		metrics.UpstreamCallsTotal.WithLabelValues("openmeteo", endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()

		if resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("rate limited: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("fetch %s: status %d: %s", endpoint, resp.StatusCode, string(b)))
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

	var data dailyResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", endpoint, err)
	}

	out := make([]models.HubWeather, 0, len(data.Daily.Time))
	for i, ds := range data.Daily.Time {
		date, err := time.Parse("2006-01-02", ds)
		if err != nil {
			return nil, fmt.Errorf("parse date %q: %w", ds, err)
		}
		w := models.HubWeather{Date: date, Airport: hub.Code, IsForecast: isForecast}
		w.SnowfallCM = nullAt(data.Daily.Snowfall, i)
		w.WindSpeedKMH = nullAt(data.Daily.WindMax, i)
		w.PrecipitationMM = nullAt(data.Daily.Precip, i)
		w.MinTempC = nullAt(data.Daily.TempMin, i)
		w.MeanTempC = nullAt(data.Daily.TempMean, i)
		out = append(out, w)
	}
	return out, nil
}

func nullAt(vals []*float64, i int) sql.NullFloat64 {
	if i >= len(vals) || vals[i] == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *vals[i], Valid: true}
}
