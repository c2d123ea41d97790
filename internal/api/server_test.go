package api_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lox/checkpointcast/internal/api"
	"github.com/lox/checkpointcast/internal/models"
	"github.com/lox/checkpointcast/internal/nowcast"
	"github.com/lox/checkpointcast/internal/store"

	_ "modernc.org/sqlite"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	s := store.New(db)
	if err := s.Migrate(); err != nil {
		t.Fatal(err)
	}
	return s
}

type fakeUpdater struct {
	fullUpdates int
	nowcasts    int
}

func (f *fakeUpdater) TriggerFullUpdate(ctx context.Context) { f.fullUpdates++ }
func (f *fakeUpdater) RunNowcast(ctx context.Context)        { f.nowcasts++ }

func newTestServer(t *testing.T, s *store.Store) (*api.Server, *fakeUpdater) {
	t.Helper()
	updater := &fakeUpdater{}
	srv := api.NewServer(s, "8080", updater, nowcast.New(s, nil), "tsa-weekly")
	return srv, updater
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	srv, _ := newTestServer(t, s)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"status"`) {
		t.Error("expected status field in JSON response")
	}
	if !strings.Contains(body, `"migration_version"`) {
		t.Error("expected migration_version field in JSON response")
	}
}

func TestHistoryEndpoint(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	srv, _ := newTestServer(t, s)

	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	obs := models.DailyObservation{
		Date:       yesterday,
		Throughput: sql.NullInt64{Int64: 2476969, Valid: true},
	}
	if err := s.UpsertTraffic(obs); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("GET", "/api/history?days=7", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var points []struct {
		Date       string `json:"date"`
		Throughput *int64 `json:"throughput"`
	}
	if err := json.NewDecoder(w.Body).Decode(&points); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("len(points) = %d, want 1", len(points))
	}
	if points[0].Throughput == nil || *points[0].Throughput != 2476969 {
		t.Errorf("throughput = %v, want 2476969", points[0].Throughput)
	}
}

func TestForecastEndpoint(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	srv, _ := newTestServer(t, s)

	now := time.Now().UTC()
	rec := models.ForecastRecord{
		TargetDate:          now.AddDate(0, 0, 2),
		ModelRunDate:        now,
		PredictedThroughput: 2500000,
		BaselinePrediction:  sql.NullFloat64{Float64: 2700000, Valid: true},
		WeatherIndex:        sql.NullFloat64{Float64: 15, Valid: true},
		RuleTrace:           sql.NullString{String: "today:0.90", Valid: true},
	}
	if err := s.SaveForecasts([]models.ForecastRecord{rec}); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("GET", "/api/forecast", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"predicted_throughput":2500000`) {
		t.Errorf("expected predicted throughput in body, got %s", body)
	}
	if !strings.Contains(body, `"rule_trace":"today:0.90"`) {
		t.Errorf("expected rule trace in body, got %s", body)
	}
}

func TestNowcastEndpoint_NoData(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	srv, _ := newTestServer(t, s)

	req := httptest.NewRequest("GET", "/api/nowcast", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != 404 {
		t.Fatalf("expected 404 with no nowcast, got %d", w.Code)
	}
}

func TestUpdateEndpoint(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	srv, updater := newTestServer(t, s)

	req := httptest.NewRequest("POST", "/api/update", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != 202 {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if updater.fullUpdates != 1 || updater.nowcasts != 1 {
		t.Errorf("updates = %d, nowcasts = %d, want 1 each", updater.fullUpdates, updater.nowcasts)
	}

	get := httptest.NewRequest("GET", "/api/update", nil)
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, get)
	if w.Code != 405 {
		t.Fatalf("expected 405 for GET, got %d", w.Code)
	}
}

func TestEventsEndpoint(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	srv, _ := newTestServer(t, s)

	events := []models.AirportEvent{{
		Airport:   "EWR",
		EventType: "Ground Stop",
		Reason:    sql.NullString{String: "WX:Thunderstorms", Valid: true},
	}}
	if err := s.ReplaceActiveAirportEvents(events); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("GET", "/api/events", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"airport":"EWR"`) {
		t.Errorf("expected EWR event in body, got %s", w.Body.String())
	}
}

func TestBriefingEndpoint_Unconfigured(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	srv, _ := newTestServer(t, s)

	req := httptest.NewRequest("GET", "/api/briefing", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != 404 {
		t.Fatalf("expected 404 without a generator, got %d", w.Code)
	}
}
