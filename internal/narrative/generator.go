// Package narrative writes a short plain-text briefing for the
// current forecast using OpenAI's API. It is entirely optional: when
// no API key is configured the service runs without briefings.
package narrative

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/lox/checkpointcast/internal/store"
)

const briefingModel = openai.ChatModelGPT4oMini

// Generator turns the current forecast window into a written briefing.
type Generator struct {
	client openai.Client
	store  *store.Store

	mu      sync.RWMutex
	current string
	written time.Time
}

// NewGenerator reads OPENAI_API_KEY; without it the caller should run
// without a generator.
func NewGenerator(st *store.Store) (*Generator, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}
	return &Generator{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		store:  st,
	}, nil
}

// Current returns the latest briefing, empty when none has been
// written yet.
func (g *Generator) Current() (string, time.Time) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.current, g.written
}

// Generate summarizes the next week of forecasts, flagging any days
// where the circuit breaker fired.
func (g *Generator) Generate(ctx context.Context) error {
	now := time.Now().UTC()
	forecasts, err := g.store.CurrentForecasts(now, now.AddDate(0, 0, 7))
	if err != nil {
		return fmt.Errorf("narrative: load forecasts: %w", err)
	}
	if len(forecasts) == 0 {
		return errors.New("narrative: no forecasts to brief")
	}

	var b strings.Builder
	for _, f := range forecasts {
		fmt.Fprintf(&b, "%s (%s): %.0f travelers",
			f.TargetDate.Format("Mon Jan 2"), f.TargetDate.Format("2006-01-02"), f.PredictedThroughput)
		if f.IsHoliday && f.HolidayName.Valid {
			fmt.Fprintf(&b, ", holiday: %s", f.HolidayName.String)
		}
		if f.RuleTrace.Valid {
			fmt.Fprintf(&b, ", disruption rules fired: %s", f.RuleTrace.String)
		}
		b.WriteString("\n")
	}

	prompt := "Write a concise two-paragraph operations briefing for airport security checkpoint staffing, " +
		"based on these daily passenger throughput forecasts. Call out the busiest day, any holiday effects, " +
		"and any days where weather disruption rules reduced the forecast. Plain text, no markdown.\n\n" + b.String()

	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: briefingModel,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return fmt.Errorf("narrative: completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return errors.New("narrative: empty completion")
	}

	g.mu.Lock()
	g.current = resp.Choices[0].Message.Content
	g.written = now
	g.mu.Unlock()
	log.Printf("narrative: wrote briefing covering %d days", len(forecasts))
	return nil
}
