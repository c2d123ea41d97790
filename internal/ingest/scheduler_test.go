package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	"github.com/lox/checkpointcast/internal/flights"
	"github.com/lox/checkpointcast/internal/models"
	"github.com/lox/checkpointcast/internal/nowcast"
	"github.com/lox/checkpointcast/internal/store"
)

func setupSchedulerStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		t.Fatal(err)
	}
	return st
}

func newTestFlightClient(t *testing.T, arrivalCalls *int) *flights.Client {
	t.Helper()
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token": "tok", "expires_in": 1800}`)
	}))
	t.Cleanup(tokenSrv.Close)

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/flights/arrival") {
			*arrivalCalls++
		}
		fmt.Fprint(w, `[]`)
	}))
	t.Cleanup(apiSrv.Close)

	rotator := flights.NewRotator([]flights.Credential{{ClientID: "a", ClientSecret: "b"}}, tokenSrv.URL)
	hubs := []models.Hub{{Code: "ATL"}}
	return flights.NewClientWithBase(apiSrv.URL, rotator, hubs, apiSrv.Client(), clockwork.NewRealClock())
}

func TestScanFlights_Cooldown(t *testing.T) {
	t.Parallel()
	st := setupSchedulerStore(t)

	arrivalCalls := 0
	s := NewScheduler(st, nil, nil, nil, nil, nowcast.New(st, nil))
	s.SetFlightClient(newTestFlightClient(t, &arrivalCalls))

	ctx := context.Background()
	s.ScanFlights(ctx)
	if arrivalCalls == 0 {
		t.Fatal("expected arrival requests on the first scan")
	}

	before := arrivalCalls
	s.ScanFlights(ctx)
	if arrivalCalls != before {
		t.Errorf("second scan made %d requests inside the cooldown, want 0", arrivalCalls-before)
	}
}

func TestScanFlights_RunsAgainAfterCooldown(t *testing.T) {
	t.Parallel()
	st := setupSchedulerStore(t)

	arrivalCalls := 0
	s := NewScheduler(st, nil, nil, nil, nil, nowcast.New(st, nil))
	s.SetFlightClient(newTestFlightClient(t, &arrivalCalls))

	if err := st.SetLastRun(flightScanScope, time.Now().UTC().Add(-2*flightScanCooldown)); err != nil {
		t.Fatal(err)
	}
	s.ScanFlights(context.Background())
	if arrivalCalls == 0 {
		t.Error("expected a scan once the cooldown has passed")
	}
}

func TestScanFlights_NoClientIsNoop(t *testing.T) {
	t.Parallel()
	st := setupSchedulerStore(t)
	s := NewScheduler(st, nil, nil, nil, nil, nowcast.New(st, nil))

	s.ScanFlights(context.Background())

	if _, ok, err := st.LastRun(flightScanScope); err != nil || ok {
		t.Errorf("LastRun = ok=%t err=%v, want no cooldown recorded", ok, err)
	}
}

func TestBackfillRates(t *testing.T) {
	t.Parallel()
	st := setupSchedulerStore(t)
	s := NewScheduler(st, nil, nil, nil, nil, nowcast.New(st, nil))

	date, _ := time.Parse("2006-01-02", "2025-01-10")
	rates := []models.CancellationRateEstimate{
		{Date: date, Rate: 0.12, Source: "observed"},
		{Date: date.AddDate(0, 0, 1), Rate: 0.03, Source: "observed"},
	}
	if err := s.BackfillRates(rates); err != nil {
		t.Fatalf("BackfillRates: %v", err)
	}

	stored, err := st.GetCancellationRates(date, date.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("GetCancellationRates: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("len(stored) = %d, want 2", len(stored))
	}
	if stored[0].Rate != 0.12 || stored[0].Source != "observed" {
		t.Errorf("stored[0] = %+v", stored[0])
	}
}
