package faa

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/lox/checkpointcast/internal/models"
	"github.com/lox/checkpointcast/internal/store"
)

const statusFixture = `<AIRPORT_STATUS_INFORMATION>
  <Delay_type>
    <Name>Ground Stop Programs</Name>
    <Ground_Stop_List>
      <Program><ARPT>EWR</ARPT><Reason>WX:Thunderstorms</Reason><End_Time>1845Z</End_Time></Program>
      <Program><ARPT>TEB</ARPT><Reason>VOLUME</Reason><End_Time>1900Z</End_Time></Program>
    </Ground_Stop_List>
  </Delay_type>
  <Delay_type>
    <Name>Ground Delay Programs</Name>
    <Ground_Delay_List>
      <Ground_Delay><ARPT>ORD</ARPT><Reason>WX:Snow/Ice</Reason><Avg>1 hour and 12 minutes</Avg></Ground_Delay>
    </Ground_Delay_List>
  </Delay_type>
</AIRPORT_STATUS_INFORMATION>`

func setupMonitor(t *testing.T, payload string) (*Monitor, *store.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st := store.New(db)
	if err := st.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, payload)
	}))
	t.Cleanup(srv.Close)

	hubs := []models.Hub{{Code: "EWR"}, {Code: "ORD"}, {Code: "ATL"}}
	return NewMonitorWithURL(srv.URL, srv.Client(), st, hubs), st
}

func TestPoll_FiltersToMonitoredHubs(t *testing.T) {
	monitor, st := setupMonitor(t, statusFixture)

	if err := monitor.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	active, err := st.ActiveAirportEvents()
	if err != nil {
		t.Fatalf("ActiveAirportEvents: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("len(active) = %d, want 2 (TEB is not monitored)", len(active))
	}

	byAirport := map[string]models.AirportEvent{}
	for _, ev := range active {
		byAirport[ev.Airport] = ev
	}
	if ev := byAirport["EWR"]; ev.EventType != "Ground Stop" || ev.Reason.String != "WX:Thunderstorms" {
		t.Errorf("EWR event = %+v", ev)
	}
	if ev := byAirport["ORD"]; ev.EventType != "Ground Delay" || !ev.AvgDelay.Valid {
		t.Errorf("ORD event = %+v", ev)
	}
}

func TestPoll_EmptyFeedClearsEvents(t *testing.T) {
	monitor, st := setupMonitor(t, statusFixture)
	if err := monitor.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	monitor.url = newEmptyFeed(t)
	if err := monitor.Poll(context.Background()); err != nil {
		t.Fatalf("Poll empty: %v", err)
	}

	active, err := st.ActiveAirportEvents()
	if err != nil {
		t.Fatalf("ActiveAirportEvents: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("len(active) = %d, want 0 after a clean feed", len(active))
	}
}

func newEmptyFeed(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<AIRPORT_STATUS_INFORMATION></AIRPORT_STATUS_INFORMATION>`)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}
