package weather

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lox/checkpointcast/internal/models"
)

const archiveFixture = `{
	"daily": {
		"time": ["2025-01-10", "2025-01-11"],
		"snowfall_sum": [2.1, null],
		"windspeed_10m_max": [31.0, 12.5],
		"precipitation_sum": [4.0, 0.0],
		"temperature_2m_min": [-3.2, 1.0],
		"temperature_2m_mean": [0.5, 4.2]
	}
}`

func TestFetchArchive(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("daily"); got != dailyVars {
			t.Errorf("daily query = %q, want %q", got, dailyVars)
		}
		fmt.Fprint(w, archiveFixture)
	}))
	defer srv.Close()

	client := NewClientWithURLs(srv.URL, srv.URL, srv.Client())
	hub := models.Hub{Code: "ORD", Lat: 41.9742, Lon: -87.9073}
	start, _ := time.Parse("2006-01-02", "2025-01-10")
	end, _ := time.Parse("2006-01-02", "2025-01-11")

	rows, err := client.FetchArchive(context.Background(), hub, start, end)
	if err != nil {
		t.Fatalf("FetchArchive: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}

	first := rows[0]
	if first.Airport != "ORD" || first.IsForecast {
		t.Errorf("first row = %+v, want ORD observed", first)
	}
	if !first.SnowfallCM.Valid || first.SnowfallCM.Float64 != 2.1 {
		t.Errorf("snowfall = %+v, want 2.1", first.SnowfallCM)
	}
	if !first.MinTempC.Valid || first.MinTempC.Float64 != -3.2 {
		t.Errorf("min temp = %+v, want -3.2", first.MinTempC)
	}

	if rows[1].SnowfallCM.Valid {
		t.Errorf("null snowfall should stay invalid, got %+v", rows[1].SnowfallCM)
	}
}

func TestFetchForecast_MarksForecastRows(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("forecast_days"); got != "14" {
			t.Errorf("forecast_days = %q, want 14", got)
		}
		fmt.Fprint(w, archiveFixture)
	}))
	defer srv.Close()

	client := NewClientWithURLs(srv.URL, srv.URL, srv.Client())
	rows, err := client.FetchForecast(context.Background(), models.Hub{Code: "DEN"}, 14)
	if err != nil {
		t.Fatalf("FetchForecast: %v", err)
	}
	for _, row := range rows {
		if !row.IsForecast {
			t.Fatalf("row %s not marked forecast", row.Date.Format("2006-01-02"))
		}
	}
}

func TestFetch_RetriesOnRateLimit(t *testing.T) {
	t.Parallel()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, archiveFixture)
	}))
	defer srv.Close()

	client := NewClientWithURLs(srv.URL, srv.URL, srv.Client())
	start, _ := time.Parse("2006-01-02", "2025-01-10")
	if _, err := client.FetchArchive(context.Background(), models.Hub{Code: "ATL"}, start, start); err != nil {
		t.Fatalf("FetchArchive: %v", err)
	}
	if calls < 2 {
		t.Errorf("calls = %d, want a retry after 429", calls)
	}
}
