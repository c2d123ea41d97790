package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/lox/checkpointcast/internal/models"
)

// BTSClient bulk-loads historical system-wide cancellation rates from
// an FTP mirror of the on-time performance extracts. This is a
// backfill tool, not a live feed: the extracts trail real time by
// weeks.
type BTSClient struct {
	host string
	path string
}

func NewBTSClient(host, path string) *BTSClient {
	return &BTSClient{host: host, path: path}
}

// FetchRates retrieves the extract and aggregates it into one observed
// cancellation rate per day.
func (b *BTSClient) FetchRates() ([]models.CancellationRateEstimate, error) {
	conn, err := ftp.Dial(b.host, ftp.DialWithTimeout(30*time.Second))
	if err != nil {
		return nil, fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login("anonymous", "anonymous"); err != nil {
		return nil, fmt.Errorf("ftp login: %w", err)
	}

	resp, err := conn.Retr(b.path)
	if err != nil {
		return nil, fmt.Errorf("ftp retr %s: %w", b.path, err)
	}
	defer resp.Close()

	return ParseRates(resp)
}

// ParseRates aggregates per-flight rows (FL_DATE, CANCELLED) into a
// daily cancellation rate. Exported separately so backfills can run
// from a local copy of the extract.
func ParseRates(r io.Reader) ([]models.CancellationRateEstimate, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("ingest: read extract header: %w", err)
	}
	dateCol, cancelCol := -1, -1
	for i, name := range header {
		switch strings.ToUpper(strings.TrimSpace(name)) {
		case "FL_DATE", "FLIGHTDATE":
			dateCol = i
		case "CANCELLED":
			cancelCol = i
		}
	}
	if dateCol < 0 || cancelCol < 0 {
		return nil, fmt.Errorf("ingest: extract missing FL_DATE or CANCELLED column")
	}

	type tally struct{ flights, cancelled int }
	counts := map[string]*tally{}
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ingest: read extract row: %w", err)
		}
		if dateCol >= len(record) || cancelCol >= len(record) {
			continue
		}
		key := strings.TrimSpace(record[dateCol])
		if _, err := time.Parse("2006-01-02", key); err != nil {
			continue
		}
		t := counts[key]
		if t == nil {
			t = &tally{}
			counts[key] = t
		}
		t.flights++
		if cancelled(record[cancelCol]) {
			t.cancelled++
		}
	}

	out := make([]models.CancellationRateEstimate, 0, len(counts))
	for key, t := range counts {
		date, _ := time.Parse("2006-01-02", key)
		out = append(out, models.CancellationRateEstimate{
			Date:   date,
			Rate:   float64(t.cancelled) / float64(t.flights),
			Source: "observed",
		})
	}
	return out, nil
}

// The extracts encode the cancellation flag as 1.00 / 0.00.
func cancelled(field string) bool {
	switch strings.TrimSpace(field) {
	case "1", "1.0", "1.00":
		return true
	}
	return false
}
