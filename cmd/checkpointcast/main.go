package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/lox/checkpointcast/internal/api"
	"github.com/lox/checkpointcast/internal/faa"
	"github.com/lox/checkpointcast/internal/flights"
	"github.com/lox/checkpointcast/internal/forecast"
	"github.com/lox/checkpointcast/internal/ingest"
	"github.com/lox/checkpointcast/internal/market"
	"github.com/lox/checkpointcast/internal/models"
	"github.com/lox/checkpointcast/internal/narrative"
	"github.com/lox/checkpointcast/internal/nowcast"
	"github.com/lox/checkpointcast/internal/store"
	"github.com/lox/checkpointcast/internal/weather"
)

type cli struct {
	DB                 string `help:"Path to SQLite database." default:"data/checkpointcast.db"`
	MarketSlug         string `help:"Polymarket event slug for sentiment snapshots." env:"MARKET_SLUG"`
	OpenskyCredentials string `help:"OpenSky client credentials as id:secret[,id:secret...]." env:"OPENSKY_CREDENTIALS"`

	Serve    serveCmd    `cmd:"" default:"withargs" help:"Run the scheduler and API server."`
	Ingest   ingestCmd   `cmd:"" help:"Ingest published throughput once and exit."`
	Train    trainCmd    `cmd:"" help:"Retrain models and regenerate the forecast, then exit."`
	Nowcast  nowcastCmd  `cmd:"" help:"Emit one same-day prediction and exit."`
	Backfill backfillCmd `cmd:"" help:"Backfill observed cancellation rates from a bulk extract."`
}

// app holds the wired components shared by every subcommand.
type app struct {
	store      *store.Store
	scheduler  *ingest.Scheduler
	forecaster *forecast.Forecaster
	sniper     *nowcast.Engine
	briefing   *narrative.Generator // nil when OPENAI_API_KEY is unset
	marketSlug string
}

type serveCmd struct {
	Port   string `help:"HTTP server port." default:"8080"`
	NoPoll bool   `help:"Disable polling (server only, for local dev)."`
}

func (c *serveCmd) Run(a *app) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	server := api.NewServer(a.store, c.Port, a.scheduler, a.sniper, a.marketSlug)
	if a.briefing != nil {
		server.SetBriefingGenerator(a.briefing)
	}

	if c.NoPoll {
		log.Println("polling disabled (--no-poll)")
	} else {
		go a.scheduler.Run(ctx)
	}
	return server.Run(ctx)
}

type ingestCmd struct{}

func (c *ingestCmd) Run(a *app) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return a.scheduler.IngestOnce(ctx)
}

type trainCmd struct{}

func (c *trainCmd) Run(a *app) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	model, err := a.scheduler.TrainShadow(ctx)
	if err != nil {
		return err
	}
	log.Printf("shadow model trained on %d rows", model.Rows)

	records, err := a.forecaster.Run(time.Now().UTC(), forecast.DefaultHorizon)
	if err != nil {
		return err
	}
	log.Printf("forecast regenerated for %d days", len(records))
	return nil
}

type nowcastCmd struct{}

func (c *nowcastCmd) Run(a *app) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result, err := a.sniper.Run(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	log.Printf("%s: %.0f travelers (fallback=%t)",
		result.TargetDate.Format("2006-01-02"), result.PredictedValue, result.IsFallback)
	return nil
}

type backfillCmd struct {
	File string `help:"Local copy of the on-time performance extract." type:"existingfile"`
	Host string `help:"FTP host for the extract mirror." default:"ftp.transtats.bts.gov:21"`
	Path string `help:"Remote path of the extract." default:"pub/ontime/latest.csv"`
}

func (c *backfillCmd) Run(a *app) error {
	rates, err := c.load()
	if err != nil {
		return err
	}
	return a.scheduler.BackfillRates(rates)
}

func (c *backfillCmd) load() ([]models.CancellationRateEstimate, error) {
	if c.File != "" {
		f, err := os.Open(c.File)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return ingest.ParseRates(f)
	}
	return ingest.NewBTSClient(c.Host, c.Path).FetchRates()
}

func main() {
	var flags cli
	ctx := kong.Parse(&flags,
		kong.Name("checkpointcast"),
		kong.Description("Daily and same-day forecasts of national security checkpoint throughput."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
	)

	db, err := sql.Open("sqlite", flags.DB)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("database migrated")

	hubs := weather.DefaultHubs
	forecaster := forecast.New(st)

	var flightClient *flights.Client
	if flags.OpenskyCredentials != "" {
		creds := flights.ParseCredentials(flags.OpenskyCredentials)
		if len(creds) == 0 {
			log.Fatal("no usable credentials in OPENSKY_CREDENTIALS")
		}
		flightClient = flights.NewClient(flights.NewRotator(creds, flights.DefaultTokenURL), hubs)
		log.Printf("flight scanning enabled with %d credentials", len(creds))
	} else {
		log.Println("OPENSKY_CREDENTIALS not set, flight scanning disabled")
	}

	var sniper *nowcast.Engine
	if flightClient != nil {
		sniper = nowcast.New(st, flightClient)
	} else {
		sniper = nowcast.New(st, nil)
	}

	scheduler := ingest.NewScheduler(st, ingest.NewThroughputClient(), weather.NewClient(), hubs, forecaster, sniper)
	scheduler.SetAirspaceMonitor(faa.NewMonitor(st, hubs))
	if flightClient != nil {
		scheduler.SetFlightClient(flightClient)
	}
	if flags.MarketSlug != "" {
		scheduler.SetMarketClient(market.NewClient(), flags.MarketSlug)
	}

	briefing, err := narrative.NewGenerator(st)
	if err != nil {
		log.Printf("briefings disabled: %v", err)
	} else {
		scheduler.SetBriefingGenerator(briefing)
	}

	err = ctx.Run(&app{
		store:      st,
		scheduler:  scheduler,
		forecaster: forecaster,
		sniper:     sniper,
		briefing:   briefing,
		marketSlug: flags.MarketSlug,
	})
	ctx.FatalIfErrorf(err)
}
