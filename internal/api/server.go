// Package api serves the dashboard JSON surface: history, forecasts,
// nowcasts, market sentiment, disruption events and operational
// triggers.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/checkpointcast/internal/narrative"
	"github.com/lox/checkpointcast/internal/nowcast"
	"github.com/lox/checkpointcast/internal/store"
)

// Updater is the slice of the scheduler the API can trigger.
type Updater interface {
	TriggerFullUpdate(ctx context.Context)
	RunNowcast(ctx context.Context)
}

type Server struct {
	store      *store.Store
	port       string
	updater    Updater
	sniper     *nowcast.Engine
	marketSlug string
	briefing   *narrative.Generator // nil when unconfigured
}

func NewServer(st *store.Store, port string, updater Updater, sniper *nowcast.Engine, marketSlug string) *Server {
	return &Server{
		store:      st,
		port:       port,
		updater:    updater,
		sniper:     sniper,
		marketSlug: marketSlug,
	}
}

// SetBriefingGenerator enables the /api/briefing endpoint.
func (s *Server) SetBriefingGenerator(g *narrative.Generator) {
	s.briefing = g
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/forecast", s.handleForecast)
	mux.HandleFunc("/api/validation", s.handleValidation)
	mux.HandleFunc("/api/nowcast", s.handleNowcast)
	mux.HandleFunc("/api/market", s.handleMarket)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/briefing", s.handleBriefing)
	mux.HandleFunc("/api/update", s.handleUpdate)
	mux.HandleFunc("/api/retrain", s.handleUpdate)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    ":" + s.port,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("api: listening on :%s", s.port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

type historyPoint struct {
	Date       string `json:"date"`
	Throughput *int64 `json:"throughput"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	days := 90
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 3650 {
			days = n
		}
	}

	now := time.Now().UTC()
	rows, err := s.store.GetTraffic(now.AddDate(0, 0, -days), now)
	if err != nil {
		httpError(w, "load history", err)
		return
	}

	out := make([]historyPoint, 0, len(rows))
	for _, obs := range rows {
		p := historyPoint{Date: obs.Date.Format("2006-01-02")}
		if obs.Throughput.Valid {
			v := obs.Throughput.Int64
			p.Throughput = &v
		}
		out = append(out, p)
	}
	writeJSON(w, out)
}

type forecastPoint struct {
	TargetDate   string   `json:"target_date"`
	ModelRunDate string   `json:"model_run_date"`
	Predicted    float64  `json:"predicted_throughput"`
	Raw          *float64 `json:"raw_prediction,omitempty"`
	WeatherIndex *float64 `json:"weather_index,omitempty"`
	IsHoliday    bool     `json:"is_holiday"`
	HolidayName  string   `json:"holiday_name,omitempty"`
	RuleTrace    string   `json:"rule_trace,omitempty"`
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	rows, err := s.store.CurrentForecasts(now, now.AddDate(0, 0, 14))
	if err != nil {
		httpError(w, "load forecasts", err)
		return
	}

	out := make([]forecastPoint, 0, len(rows))
	for _, f := range rows {
		p := forecastPoint{
			TargetDate:   f.TargetDate.Format("2006-01-02"),
			ModelRunDate: f.ModelRunDate.Format("2006-01-02"),
			Predicted:    f.PredictedThroughput,
			IsHoliday:    f.IsHoliday,
		}
		if f.BaselinePrediction.Valid {
			p.Raw = &f.BaselinePrediction.Float64
		}
		if f.WeatherIndex.Valid {
			p.WeatherIndex = &f.WeatherIndex.Float64
		}
		if f.HolidayName.Valid {
			p.HolidayName = f.HolidayName.String
		}
		if f.RuleTrace.Valid {
			p.RuleTrace = f.RuleTrace.String
		}
		out = append(out, p)
	}
	writeJSON(w, out)
}

type validationPoint struct {
	Date      string   `json:"date"`
	Predicted float64  `json:"predicted"`
	Actual    *int64   `json:"actual"`
	ErrorPct  *float64 `json:"error_pct"`
}

func (s *Server) handleValidation(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	rows, err := s.store.Validation(now.AddDate(0, 0, -30), now)
	if err != nil {
		httpError(w, "load validation", err)
		return
	}

	out := make([]validationPoint, 0, len(rows))
	for _, v := range rows {
		p := validationPoint{Date: v.Date.Format("2006-01-02"), Predicted: v.Predicted}
		if v.Actual.Valid {
			a := v.Actual.Int64
			p.Actual = &a
		}
		if v.ErrorPct.Valid {
			e := v.ErrorPct.Float64
			p.ErrorPct = &e
		}
		out = append(out, p)
	}
	writeJSON(w, out)
}

type nowcastView struct {
	TargetDate     string   `json:"target_date"`
	Predicted      float64  `json:"predicted_value"`
	FlightVolume   *int64   `json:"flight_volume_used"`
	CancelVelocity *float64 `json:"cancel_velocity"`
	IsFallback     bool     `json:"is_fallback"`
	IsDataOutage   bool     `json:"is_data_outage"`
	ModelVersion   string   `json:"model_version"`
	RuleTrace      string   `json:"rule_trace,omitempty"`
	CreatedAt      string   `json:"created_at"`
}

func (s *Server) handleNowcast(w http.ResponseWriter, r *http.Request) {
	target, err := s.sniper.TargetDate(time.Now().UTC())
	if err != nil {
		httpError(w, "nowcast target", err)
		return
	}
	n, err := s.store.LatestNowcast(target)
	if err != nil {
		httpError(w, "load nowcast", err)
		return
	}
	if n == nil {
		http.Error(w, "no nowcast yet", http.StatusNotFound)
		return
	}

	view := nowcastView{
		TargetDate:   n.TargetDate.Format("2006-01-02"),
		Predicted:    n.PredictedValue,
		IsFallback:   n.IsFallback,
		IsDataOutage: n.IsDataOutage,
		ModelVersion: n.ModelVersion,
		CreatedAt:    n.CreatedAt.UTC().Format(time.RFC3339),
	}
	if n.FlightVolumeUsed.Valid {
		view.FlightVolume = &n.FlightVolumeUsed.Int64
	}
	if n.CancelVelocity.Valid {
		view.CancelVelocity = &n.CancelVelocity.Float64
	}
	if n.RuleTrace.Valid {
		view.RuleTrace = n.RuleTrace.String
	}
	writeJSON(w, view)
}

type marketView struct {
	OutcomeLabel string  `json:"outcome_label"`
	Probability  float64 `json:"probability"`
	CapturedAt   string  `json:"captured_at"`
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	if s.marketSlug == "" {
		writeJSON(w, []marketView{})
		return
	}
	snaps, err := s.store.LatestMarketSnapshots(s.marketSlug)
	if err != nil {
		httpError(w, "load market", err)
		return
	}
	out := make([]marketView, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, marketView{
			OutcomeLabel: snap.OutcomeLabel,
			Probability:  snap.Probability,
			CapturedAt:   snap.CapturedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, out)
}

type eventView struct {
	Airport   string `json:"airport"`
	EventType string `json:"event_type"`
	Reason    string `json:"reason,omitempty"`
	AvgDelay  string `json:"avg_delay,omitempty"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ActiveAirportEvents()
	if err != nil {
		httpError(w, "load events", err)
		return
	}
	out := make([]eventView, 0, len(events))
	for _, ev := range events {
		out = append(out, eventView{
			Airport:   ev.Airport,
			EventType: ev.EventType,
			Reason:    ev.Reason.String,
			AvgDelay:  ev.AvgDelay.String,
		})
	}
	writeJSON(w, out)
}

func (s *Server) handleBriefing(w http.ResponseWriter, r *http.Request) {
	if s.briefing == nil {
		http.Error(w, "briefing not configured", http.StatusNotFound)
		return
	}
	text, written := s.briefing.Current()
	if text == "" {
		http.Error(w, "no briefing yet", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]string{
		"briefing":   text,
		"written_at": written.Format(time.RFC3339),
	})
}

// handleUpdate kicks off the full pipeline in the background and
// returns immediately; the dashboard polls the other endpoints for
// results.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.updater.RunNowcast(r.Context())
	s.updater.TriggerFullUpdate(context.WithoutCancel(r.Context()))
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]string{"status": "update started"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	version, err := s.store.MigrationVersion()
	if err != nil {
		httpError(w, "health", err)
		return
	}
	latest, ok, err := s.store.LatestTrafficDate()
	if err != nil {
		httpError(w, "health", err)
		return
	}
	resp := map[string]any{
		"status":            "ok",
		"migration_version": version,
	}
	if ok {
		resp["latest_traffic_date"] = latest.Format("2006-01-02")
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func httpError(w http.ResponseWriter, op string, err error) {
	log.Printf("api: %s: %v", op, err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
