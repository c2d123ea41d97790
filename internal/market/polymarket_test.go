package market

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCleanLabel(t *testing.T) {
	tests := []struct {
		group    string
		question string
		want     string
	}{
		{"2.5M or more", "Will TSA check-ins be 2.5M or more?", "2.5M or more"},
		{"", "Will TSA check-ins be 2.5M or more?", "2.5M or more"},
		{"", "Will TSA screen   over 3 million travelers?", "over 3 million travelers"},
		{"  Under 2M  ", "", "Under 2M"},
	}
	for _, tt := range tests {
		if got := CleanLabel(tt.group, tt.question); got != tt.want {
			t.Errorf("CleanLabel(%q, %q) = %q, want %q", tt.group, tt.question, got, tt.want)
		}
	}
}

func TestFetchEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("slug"); got != "tsa-daily" {
			t.Errorf("slug = %q, want tsa-daily", got)
		}
		fmt.Fprint(w, `[{
			"slug": "tsa-daily",
			"markets": [
				{"question": "Will TSA check-ins be 2.5M or more?", "groupItemTitle": "2.5M or more", "outcomePrices": "[\"0.35\", \"0.65\"]", "volume": "12000.5"},
				{"question": "Will TSA check-ins be under 2M?", "groupItemTitle": "Under 2M", "outcomePrices": "[\"0.10\", \"0.90\"]", "volume": "not-a-number"},
				{"question": "Broken market", "groupItemTitle": "broken", "outcomePrices": "nonsense", "volume": "1"}
			]
		}]`)
	}))
	defer srv.Close()

	client := NewClientWithBase(srv.URL, srv.Client())
	snaps, err := client.FetchEvent(context.Background(), "tsa-daily")
	if err != nil {
		t.Fatalf("FetchEvent: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("len(snaps) = %d, want 2 (broken market skipped)", len(snaps))
	}

	first := snaps[0]
	if first.OutcomeLabel != "2.5M or more" {
		t.Errorf("OutcomeLabel = %q", first.OutcomeLabel)
	}
	if first.Probability != 0.35 {
		t.Errorf("Probability = %f, want 0.35", first.Probability)
	}
	if !first.Volume.Valid || first.Volume.Float64 != 12000.5 {
		t.Errorf("Volume = %+v, want 12000.5", first.Volume)
	}
	if snaps[1].Volume.Valid {
		t.Error("unparseable volume should be stored as unknown")
	}
}

func TestFetchEvent_NoEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	client := NewClientWithBase(srv.URL, srv.Client())
	if _, err := client.FetchEvent(context.Background(), "missing"); err == nil {
		t.Fatal("expected an error for an unknown slug")
	}
}
