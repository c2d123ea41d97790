package store

import (
	"fmt"
	"time"

	"github.com/lox/checkpointcast/internal/models"
)

func (s *Store) InsertMarketSnapshot(m models.MarketSnapshot) error {
	_, err := s.db.Exec(`
		INSERT INTO market_sentiment_snapshots (captured_at, event_slug, outcome_label, probability, volume)
		VALUES (?, ?, ?, ?, ?)
	`, m.CapturedAt.UTC(), m.EventSlug, m.OutcomeLabel, m.Probability, m.Volume)
	return err
}

// LatestMarketSnapshots returns the newest snapshot per outcome label
// for one event slug.
func (s *Store) LatestMarketSnapshots(slug string) ([]models.MarketSnapshot, error) {
	rows, err := s.db.Query(`
		SELECT captured_at, event_slug, outcome_label, probability, volume
		FROM market_sentiment_snapshots m
		WHERE event_slug = ?
		  AND id = (
			SELECT MAX(id) FROM market_sentiment_snapshots
			WHERE event_slug = m.event_slug AND outcome_label = m.outcome_label
		  )
		ORDER BY outcome_label ASC
	`, slug)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.MarketSnapshot
	for rows.Next() {
		var m models.MarketSnapshot
		if err := rows.Scan(&m.CapturedAt, &m.EventSlug, &m.OutcomeLabel, &m.Probability, &m.Volume); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ReplaceActiveAirportEvents retires every currently-active event and
// inserts the latest poll's events as the new active set, in one
// transaction. The feed is a full snapshot, so absence means resolved.
func (s *Store) ReplaceActiveAirportEvents(events []models.AirportEvent) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin airport events tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE airport_events SET active = FALSE WHERE active = TRUE`); err != nil {
		return fmt.Errorf("retire airport events: %w", err)
	}

	for _, ev := range events {
		if _, err := tx.Exec(`
			INSERT INTO airport_events (airport, event_type, reason, avg_delay, started_at, seen_at, active)
			VALUES (?, ?, ?, ?, ?, ?, TRUE)
		`, ev.Airport, ev.EventType, ev.Reason, ev.AvgDelay, ev.StartedAt, time.Now().UTC()); err != nil {
			return fmt.Errorf("insert airport event %s: %w", ev.Airport, err)
		}
	}

	return tx.Commit()
}

func (s *Store) ActiveAirportEvents() ([]models.AirportEvent, error) {
	rows, err := s.db.Query(`
		SELECT airport, event_type, reason, avg_delay, started_at, seen_at, active
		FROM airport_events
		WHERE active = TRUE
		ORDER BY airport ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AirportEvent
	for rows.Next() {
		var ev models.AirportEvent
		if err := rows.Scan(&ev.Airport, &ev.EventType, &ev.Reason, &ev.AvgDelay, &ev.StartedAt, &ev.SeenAt, &ev.Active); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
