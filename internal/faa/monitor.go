// Package faa polls the national airspace status feed for ground
// stops, ground delay programs and closures at the monitored hubs.
package faa

import (
	"context"
	"database/sql"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/checkpointcast/internal/httputil"
	"github.com/lox/checkpointcast/internal/metrics"
	"github.com/lox/checkpointcast/internal/models"
	"github.com/lox/checkpointcast/internal/store"
)

const defaultStatusURL = "https://nasstatus.faa.gov/api/airport-status-information"

type Monitor struct {
	url     string
	client  *http.Client
	store   *store.Store
	watched map[string]bool
}

func NewMonitor(st *store.Store, hubs []models.Hub) *Monitor {
	watched := make(map[string]bool, len(hubs))
	for _, h := range hubs {
		watched[h.Code] = true
	}
	return &Monitor{
		url:     defaultStatusURL,
		client:  httputil.NewClient(),
		store:   st,
		watched: watched,
	}
}

// NewMonitorWithURL exists for tests pointing at a local server.
func NewMonitorWithURL(url string, client *http.Client, st *store.Store, hubs []models.Hub) *Monitor {
	m := NewMonitor(st, hubs)
	m.url = url
	m.client = client
	return m
}

type statusDocument struct {
	XMLName    xml.Name    `xml:"AIRPORT_STATUS_INFORMATION"`
	DelayTypes []delayType `xml:"Delay_type"`
}

type delayType struct {
	Name         string        `xml:"Name"`
	GroundStops  []groundStop  `xml:"Ground_Stop_List>Program"`
	GroundDelays []groundDelay `xml:"Ground_Delay_List>Ground_Delay"`
	Closures     []closure     `xml:"Airport_Closure_List>Airport"`
}

type groundStop struct {
	Airport string `xml:"ARPT"`
	Reason  string `xml:"Reason"`
	EndTime string `xml:"End_Time"`
}

type groundDelay struct {
	Airport  string `xml:"ARPT"`
	Reason   string `xml:"Reason"`
	AvgDelay string `xml:"Avg"`
}

type closure struct {
	Airport string `xml:"ARPT"`
	Reason  string `xml:"Reason"`
	Start   string `xml:"Start"`
}

// Poll fetches the current status snapshot and replaces the active
// event set with what the feed reports for the monitored hubs.
func (m *Monitor) Poll(ctx context.Context) error {
	var body []byte
	operation := func() error {
		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		resp, err := m.client.Do(req)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("fetch status: %w", err))
		}
		defer resp.Body.Close()
		metrics.UpstreamLatency.WithLabelValues("faa", "status").Observe(time.Since(start).Seconds())
		metrics.UpstreamCallsTotal.WithLabelValues("faa", "status", fmt.Sprintf("%d", resp.StatusCode)).Inc()

		if resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("rate limited: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("fetch status: status %d: %s", resp.StatusCode, string(b)))
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
		return err
	}

	events, err := m.parse(body)
	if err != nil {
		return err
	}
	if err := m.store.ReplaceActiveAirportEvents(events); err != nil {
		return fmt.Errorf("faa: store events: %w", err)
	}
	if len(events) > 0 {
		log.Printf("faa: %d active disruptions at monitored hubs", len(events))
	}
	return nil
}

func (m *Monitor) parse(body []byte) ([]models.AirportEvent, error) {
	var doc statusDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("faa: unmarshal status: %w", err)
	}

	var events []models.AirportEvent
	for _, dt := range doc.DelayTypes {
		for _, gs := range dt.GroundStops {
			if !m.watched[gs.Airport] {
				continue
			}
			events = append(events, models.AirportEvent{
				Airport:   gs.Airport,
				EventType: "Ground Stop",
				Reason:    nullString(gs.Reason),
			})
		}
		for _, gd := range dt.GroundDelays {
			if !m.watched[gd.Airport] {
				continue
			}
			events = append(events, models.AirportEvent{
				Airport:   gd.Airport,
				EventType: "Ground Delay",
				Reason:    nullString(gd.Reason),
				AvgDelay:  nullString(gd.AvgDelay),
			})
		}
		for _, cl := range dt.Closures {
			if !m.watched[cl.Airport] {
				continue
			}
			events = append(events, models.AirportEvent{
				Airport:   cl.Airport,
				EventType: "Closure",
				Reason:    nullString(cl.Reason),
				StartedAt: nullString(cl.Start),
			})
		}
	}
	return events, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
