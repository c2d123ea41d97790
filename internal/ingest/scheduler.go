package ingest

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lox/checkpointcast/internal/faa"
	"github.com/lox/checkpointcast/internal/flights"
	"github.com/lox/checkpointcast/internal/forecast"
	"github.com/lox/checkpointcast/internal/market"
	"github.com/lox/checkpointcast/internal/metrics"
	"github.com/lox/checkpointcast/internal/models"
	"github.com/lox/checkpointcast/internal/narrative"
	"github.com/lox/checkpointcast/internal/nowcast"
	"github.com/lox/checkpointcast/internal/shadow"
	"github.com/lox/checkpointcast/internal/store"
	"github.com/lox/checkpointcast/internal/weather"
)

const (
	// flightScanCooldown guards the expensive all-hub arrival scan:
	// a second trigger inside the window is skipped.
	flightScanCooldown = 60 * time.Minute
	flightScanScope    = "flight_scan"

	archiveBackfillDays  = 35
	forecastAheadDays    = 14
	minReportingAirports = 10
)

type Scheduler struct {
	store      *store.Store
	throughput *ThroughputClient
	weather    *weather.Client
	hubs       []models.Hub

	forecaster *forecast.Forecaster
	sniper     *nowcast.Engine

	flightClient *flights.Client
	marketClient *market.Client
	marketSlug   string
	faaMonitor   *faa.Monitor
	briefing     *narrative.Generator

	throughputInterval time.Duration
	weatherInterval    time.Duration
	marketInterval     time.Duration
	airspaceInterval   time.Duration

	fullUpdateMu sync.Mutex
}

func NewScheduler(st *store.Store, throughput *ThroughputClient, wc *weather.Client, hubs []models.Hub, forecaster *forecast.Forecaster, sniper *nowcast.Engine) *Scheduler {
	return &Scheduler{
		store:              st,
		throughput:         throughput,
		weather:            wc,
		hubs:               hubs,
		forecaster:         forecaster,
		sniper:             sniper,
		throughputInterval: 30 * time.Minute,
		weatherInterval:    6 * time.Hour,
		marketInterval:     1 * time.Hour,
		airspaceInterval:   10 * time.Minute,
	}
}

// SetFlightClient enables the daily live-flight scan.
func (s *Scheduler) SetFlightClient(c *flights.Client) {
	s.flightClient = c
}

// SetMarketClient enables sentiment snapshots for one event slug.
func (s *Scheduler) SetMarketClient(c *market.Client, slug string) {
	s.marketClient = c
	s.marketSlug = slug
}

// SetAirspaceMonitor enables airport disruption polling.
func (s *Scheduler) SetAirspaceMonitor(m *faa.Monitor) {
	s.faaMonitor = m
}

// SetBriefingGenerator enables the written forecast briefing.
func (s *Scheduler) SetBriefingGenerator(g *narrative.Generator) {
	s.briefing = g
}

func (s *Scheduler) Run(ctx context.Context) {
	s.pollThroughput(ctx)
	s.pollMarket(ctx)
	s.pollAirspace(ctx)

	throughputTicker := time.NewTicker(s.throughputInterval)
	weatherTicker := time.NewTicker(s.weatherInterval)
	marketTicker := time.NewTicker(s.marketInterval)
	airspaceTicker := time.NewTicker(s.airspaceInterval)
	defer throughputTicker.Stop()
	defer weatherTicker.Stop()
	defer marketTicker.Stop()
	defer airspaceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: shutting down")
			return
		case <-throughputTicker.C:
			s.pollThroughput(ctx)
		case <-weatherTicker.C:
			s.refreshWeather(ctx)
		case <-marketTicker.C:
			s.pollMarket(ctx)
		case <-airspaceTicker.C:
			s.pollAirspace(ctx)
		}
	}
}

// pollThroughput ingests the published totals. New data triggers the
// synchronous nowcast refresh and a fire-and-forget full update, so
// the cheap number lands immediately and the expensive retrain
// follows in the background.
func (s *Scheduler) pollThroughput(ctx context.Context) {
	before, _, err := s.store.LatestTrafficDate()
	if err != nil {
		log.Printf("scheduler: latest traffic date: %v", err)
		return
	}

	if err := s.IngestOnce(ctx); err != nil {
		log.Printf("scheduler: ingest throughput: %v", err)
		return
	}

	after, ok, err := s.store.LatestTrafficDate()
	if err != nil || !ok {
		return
	}
	if after.After(before) {
		s.ScanFlights(ctx)
		s.RunNowcast(ctx)
		s.TriggerFullUpdate(ctx)
	}
}

// IngestOnce fetches and stores the published totals a single time,
// without any of the follow-on triggers.
func (s *Scheduler) IngestOnce(ctx context.Context) error {
	obs, err := s.throughput.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch throughput: %w", err)
	}
	for _, o := range obs {
		if err := s.store.UpsertTraffic(o); err != nil {
			return fmt.Errorf("store throughput: %w", err)
		}
	}
	metrics.ObservationsIngested.WithLabelValues("tsa").Add(float64(len(obs)))
	log.Printf("scheduler: ingested %d throughput rows", len(obs))
	return nil
}

// RunNowcast produces one same-day prediction now, synchronously.
func (s *Scheduler) RunNowcast(ctx context.Context) {
	if _, err := s.sniper.Run(ctx, time.Now().UTC()); err != nil {
		log.Printf("scheduler: nowcast: %v", err)
	}
}

// TriggerFullUpdate starts the weather + shadow + forecast pipeline in
// the background. A second trigger while one is running is dropped.
func (s *Scheduler) TriggerFullUpdate(ctx context.Context) {
	if !s.fullUpdateMu.TryLock() {
		log.Println("scheduler: full update already running, skipping")
		return
	}
	go func() {
		defer s.fullUpdateMu.Unlock()
		s.RunFullUpdate(ctx)
	}()
}

// RunFullUpdate refreshes weather, recomputes shadow cancellation
// estimates and retrains the primary forecast.
func (s *Scheduler) RunFullUpdate(ctx context.Context) {
	s.refreshWeather(ctx)
	s.updateShadowRates(ctx)

	if _, err := s.forecaster.Run(time.Now().UTC(), forecast.DefaultHorizon); err != nil {
		log.Printf("scheduler: forecast: %v", err)
		return
	}
	s.generateBriefing(ctx)
}

// refreshWeather pulls recent archive days and the forward forecast
// for every hub, then rebuilds the daily severity indexes.
func (s *Scheduler) refreshWeather(ctx context.Context) {
	now := time.Now().UTC()
	start := now.AddDate(0, 0, -archiveBackfillDays)

	for _, hub := range s.hubs {
		rows, err := s.weather.FetchArchive(ctx, hub, start, now)
		if err != nil {
			log.Printf("scheduler: weather archive %s: %v", hub.Code, err)
			continue
		}
		fc, err := s.weather.FetchForecast(ctx, hub, forecastAheadDays)
		if err != nil {
			log.Printf("scheduler: weather forecast %s: %v", hub.Code, err)
		}
		for _, w := range append(rows, fc...) {
			if err := s.store.UpsertHubWeather(w); err != nil {
				log.Printf("scheduler: store weather: %v", err)
			}
		}
		metrics.ObservationsIngested.WithLabelValues("weather").Add(float64(len(rows) + len(fc)))
	}

	s.updateWeatherIndexes(now)
}

// updateWeatherIndexes rebuilds the national severity table over the
// recent window plus the forecast horizon.
func (s *Scheduler) updateWeatherIndexes(now time.Time) {
	start := now.AddDate(0, 0, -(archiveBackfillDays + 3)) // room for the lags
	end := now.AddDate(0, 0, forecastAheadDays)

	hubRows, err := s.store.GetHubWeather(start, end)
	if err != nil {
		log.Printf("scheduler: load hub weather: %v", err)
		return
	}
	for _, idx := range weather.Indexes(weather.Aggregate(hubRows)) {
		if err := s.store.UpsertWeatherIndex(idx); err != nil {
			log.Printf("scheduler: store weather index: %v", err)
			return
		}
	}
}

// updateShadowRates loads (or lazily trains) the shadow model and
// writes predicted cancellation rates for every date that lacks an
// observed one.
func (s *Scheduler) updateShadowRates(ctx context.Context) {
	model, err := s.loadOrTrainShadow(ctx)
	if err != nil {
		log.Printf("scheduler: shadow model: %v", err)
		return
	}

	now := time.Now().UTC()
	start := now.AddDate(0, 0, -archiveBackfillDays)
	end := now.AddDate(0, 0, forecastAheadDays)

	hubRows, err := s.store.GetHubWeather(start, end)
	if err != nil {
		log.Printf("scheduler: load hub weather: %v", err)
		return
	}
	observed, err := s.store.GetCancellationRates(start, end)
	if err != nil {
		log.Printf("scheduler: load cancel rates: %v", err)
		return
	}
	hasObserved := map[string]bool{}
	for _, r := range observed {
		if r.Source == "observed" {
			hasObserved[r.Date.Format("2006-01-02")] = true
		}
	}

	count := 0
	for _, agg := range weather.Aggregate(hubRows) {
		if hasObserved[agg.Date.Format("2006-01-02")] {
			continue
		}
		est := models.CancellationRateEstimate{
			Date:   agg.Date,
			Rate:   model.Predict(agg),
			Source: "predicted",
		}
		if err := s.store.UpsertCancellationRate(est); err != nil {
			log.Printf("scheduler: store cancel rate: %v", err)
			return
		}
		count++
	}
	log.Printf("scheduler: wrote %d predicted cancellation rates", count)
}

func (s *Scheduler) loadOrTrainShadow(ctx context.Context) (*shadow.Model, error) {
	payload, _, err := s.store.LoadArtifact(shadow.ArtifactName)
	if err != nil {
		return nil, err
	}
	if payload != "" {
		return shadow.Decode(payload)
	}
	return s.TrainShadow(ctx)
}

// TrainShadow retrains the shadow cancellation model from the full
// observed history and stores it as the new artifact.
func (s *Scheduler) TrainShadow(ctx context.Context) (*shadow.Model, error) {
	start, _ := time.Parse("2006-01-02", "2019-01-01")
	now := time.Now().UTC()

	hubRows, err := s.store.GetHubWeather(start, now)
	if err != nil {
		return nil, err
	}
	observed, err := s.store.GetCancellationRates(start, now)
	if err != nil {
		return nil, err
	}
	rates := map[string]float64{}
	for _, r := range observed {
		if r.Source == "observed" {
			rates[r.Date.Format("2006-01-02")] = r.Rate
		}
	}

	model, err := shadow.Train(weather.Aggregate(hubRows), rates, now)
	if err != nil {
		metrics.TrainingRuns.WithLabelValues("shadow", "error").Inc()
		return nil, err
	}
	metrics.TrainingRuns.WithLabelValues("shadow", "ok").Inc()

	payload, err := model.Encode()
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveArtifact(shadow.ArtifactName, payload, now); err != nil {
		return nil, err
	}
	log.Printf("scheduler: trained shadow model on %d rows", model.Rows)
	return model, nil
}

// ScanFlights runs the all-hub arrival scan for the nowcast target
// window, honoring the cooldown.
func (s *Scheduler) ScanFlights(ctx context.Context) {
	if s.flightClient == nil {
		return
	}

	last, ok, err := s.store.LastRun(flightScanScope)
	if err != nil {
		log.Printf("scheduler: flight scan cooldown: %v", err)
		return
	}
	now := time.Now().UTC()
	if ok && now.Sub(last) < flightScanCooldown {
		log.Printf("scheduler: flight scan ran %s ago, cooling down", now.Sub(last).Round(time.Minute))
		return
	}

	target, err := s.sniper.TargetDate(now)
	if err != nil {
		log.Printf("scheduler: flight scan target: %v", err)
		return
	}
	for _, date := range []time.Time{target.AddDate(0, 0, -1), target} {
		obs, err := s.flightClient.FetchDay(ctx, date)
		if err != nil {
			log.Printf("scheduler: flight scan %s: %v", date.Format("2006-01-02"), err)
			continue
		}
		for _, o := range obs {
			if err := s.store.UpsertFlightStats(o); err != nil {
				log.Printf("scheduler: store flight stats: %v", err)
				return
			}
		}
		metrics.ObservationsIngested.WithLabelValues("flights").Add(float64(len(obs)))
	}

	if err := s.store.SetLastRun(flightScanScope, now); err != nil {
		log.Printf("scheduler: record flight scan: %v", err)
	}
}

func (s *Scheduler) pollMarket(ctx context.Context) {
	if s.marketClient == nil {
		return
	}
	snaps, err := s.marketClient.FetchEvent(ctx, s.marketSlug)
	if err != nil {
		log.Printf("scheduler: market: %v", err)
		return
	}
	for _, snap := range snaps {
		if err := s.store.InsertMarketSnapshot(snap); err != nil {
			log.Printf("scheduler: store market snapshot: %v", err)
			return
		}
	}
	metrics.ObservationsIngested.WithLabelValues("market").Add(float64(len(snaps)))
}

func (s *Scheduler) pollAirspace(ctx context.Context) {
	if s.faaMonitor == nil {
		return
	}
	if err := s.faaMonitor.Poll(ctx); err != nil {
		log.Printf("scheduler: airspace: %v", err)
	}
}

func (s *Scheduler) generateBriefing(ctx context.Context) {
	if s.briefing == nil {
		return
	}
	if err := s.briefing.Generate(ctx); err != nil {
		log.Printf("scheduler: briefing: %v", err)
	}
}

// BackfillRates loads historical cancellation rates from a bulk
// extract reader, marking them observed.
func (s *Scheduler) BackfillRates(rates []models.CancellationRateEstimate) error {
	for _, r := range rates {
		if err := s.store.UpsertCancellationRate(r); err != nil {
			return err
		}
	}
	metrics.ObservationsIngested.WithLabelValues("bts").Add(float64(len(rates)))
	log.Printf("scheduler: backfilled %d observed cancellation rates", len(rates))
	return nil
}
