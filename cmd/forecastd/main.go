package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/nimbusml/forecastd/internal/api"
	"github.com/nimbusml/forecastd/internal/artifact"
	"github.com/nimbusml/forecastd/internal/cache"
	"github.com/nimbusml/forecastd/internal/drift"
	"github.com/nimbusml/forecastd/internal/ensemble"
	"github.com/nimbusml/forecastd/internal/features"
	"github.com/nimbusml/forecastd/internal/forecaster"
	"github.com/nimbusml/forecastd/internal/models"
	"github.com/nimbusml/forecastd/internal/registry"
	"github.com/nimbusml/forecastd/internal/store"
	"github.com/nimbusml/forecastd/internal/synthetic"
)

type Globals struct {
	DB          string  `env:"DB_PATH" default:"data/forecastd.db" help:"Path to SQLite database."`
	ArtifactURI string  `env:"ARTIFACT_URI" default:"data/artifacts" help:"Model artifact location: directory or http(s) base URL."`
	Family      string  `env:"MODEL_FAMILY" default:"weather-forecast" help:"Model family served by this instance."`
	GateMinR2   float64 `env:"GATE_MIN_R2" default:"0.85" help:"Minimum R2 required on every target for promotion."`
	GateMaxRMSE float64 `env:"GATE_MAX_RMSE" default:"3.0" help:"Maximum RMSE allowed on any target for promotion."`
}

var cli struct {
	Globals

	Serve    ServeCmd    `cmd:"" default:"1" help:"Run the forecast service."`
	Seed     SeedCmd     `cmd:"" help:"Seed synthetic observations and a demo model version."`
	Drift    DriftCmd    `cmd:"" help:"Run one drift monitoring cycle and exit."`
	Register RegisterCmd `cmd:"" help:"Register a trained model version from a metrics file."`
	Promote  PromoteCmd  `cmd:"" help:"Promote a staged version through the validation gate."`
	Demote   DemoteCmd   `cmd:"" help:"Move a version to Archived."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("forecastd"),
		kong.Description("Weather forecast serving and model-lifecycle engine."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}

func openStore(g *Globals) (*store.Store, func(), error) {
	db, err := sql.Open("sqlite", g.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return st, func() { db.Close() }, nil
}

func newRegistry(g *Globals, st *store.Store) *registry.Registry {
	return registry.New(st, registry.Gates{MinR2: g.GateMinR2, MaxRMSE: g.GateMaxRMSE})
}

type ServeCmd struct {
	Port           string        `env:"PORT" default:"8080" help:"HTTP server port."`
	RedisAddr      string        `env:"REDIS_ADDR" help:"Redis address for the prediction cache; empty uses in-process memory."`
	CacheTTL       time.Duration `env:"PREDICTION_CACHE_TTL" default:"30m" help:"Prediction cache TTL."`
	MaxConcurrent  int64         `env:"MAX_CONCURRENT" default:"8" help:"Bound on in-flight feature building and scoring."`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" default:"15s" help:"Per-request computation timeout."`
	AllowDegraded  bool          `env:"ALLOW_DEGRADED" help:"Serve with missing lag features when history is short."`
	DriftSchedule  string        `env:"DRIFT_SCHEDULE" default:"0 6 * * *" help:"Cron schedule for drift monitoring."`
	DriftWindow    int           `env:"DRIFT_WINDOW_DAYS" default:"14" help:"Live sampling window in days."`
	DriftThreshold float64       `env:"DRIFT_THRESHOLD" default:"0.1" help:"Default per-feature PSI threshold."`
	DriftQuorum    int           `env:"DRIFT_QUORUM" default:"1" help:"Drifted features required to signal retraining."`
}

func (c *ServeCmd) Run(g *Globals) error {
	st, closeDB, err := openStore(g)
	if err != nil {
		return err
	}
	defer closeDB()

	reg := newRegistry(g, st)
	storage := artifact.NewStorage(g.ArtifactURI)
	builder := features.NewBuilder(st, features.Config{AllowDegraded: c.AllowDegraded})
	predictor := ensemble.NewPredictor(storage, st, ensemble.DefaultWeights())

	var predCache cache.Cache
	if c.RedisAddr != "" {
		predCache = cache.NewRedis(redis.NewClient(&redis.Options{Addr: c.RedisAddr}))
		log.Printf("prediction cache: redis at %s", c.RedisAddr)
	} else {
		predCache = cache.NewMemory()
		log.Println("prediction cache: in-process memory")
	}

	fc := forecaster.New(builder, predictor, reg, predCache, forecaster.Config{
		Family:        g.Family,
		CacheTTL:      c.CacheTTL,
		MaxConcurrent: c.MaxConcurrent,
		Timeout:       c.RequestTimeout,
	})

	monitor := drift.NewMonitor(st, reg, storage, g.Family, drift.Config{
		WindowDays: c.DriftWindow,
		Threshold:  c.DriftThreshold,
		Quorum:     c.DriftQuorum,
	}, func(_ context.Context, family string, drifted []string) {
		// The external training workflow watches the log and metrics
		// stream for this signal.
		log.Printf("retrain requested for %s: drifted features %v", family, drifted)
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := cron.New()
	if _, err := sched.AddFunc(c.DriftSchedule, func() {
		cycleCtx, cycleCancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cycleCancel()
		if _, err := monitor.RunCycle(cycleCtx, time.Now().UTC()); err != nil {
			log.Printf("drift cycle: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("drift schedule %q: %w", c.DriftSchedule, err)
	}
	sched.Start()
	defer sched.Stop()

	server := api.NewServer(fc, reg, st, g.Family, c.Port)
	log.Printf("starting server on :%s", c.Port)
	return server.Run(ctx)
}

type SeedCmd struct {
	Latitude  float64 `default:"40.7120" help:"Seed location latitude."`
	Longitude float64 `default:"-74.0060" help:"Seed location longitude."`
	Days      int     `default:"365" help:"Days of synthetic history to generate."`
	Seed      int64   `default:"42" help:"Random seed."`
	Promote   bool    `default:"true" negatable:"" help:"Promote the demo version after registering."`
}

func (c *SeedCmd) Run(g *Globals) error {
	st, closeDB, err := openStore(g)
	if err != nil {
		return err
	}
	defer closeDB()

	ctx := context.Background()
	loc := models.Location{Latitude: c.Latitude, Longitude: c.Longitude}

	obs := synthetic.Observations(loc, c.Days, time.Now().UTC(), "synthetic", c.Seed)
	for _, o := range obs {
		if err := st.InsertObservation(ctx, o); err != nil {
			return fmt.Errorf("insert observation: %w", err)
		}
	}
	log.Printf("seeded %d observations at %s", len(obs), loc.Key())

	reg := newRegistry(g, st)
	mv, err := reg.Register(ctx, g.Family, "0.1.0-demo", synthetic.DemoMetrics())
	if err != nil {
		return fmt.Errorf("register demo version: %w", err)
	}

	schema := features.NewSchema(features.DefaultLags, features.DefaultWindows)
	art, err := synthetic.DemoArtifact(mv.RunID, schema, obs)
	if err != nil {
		return fmt.Errorf("build demo artifact: %w", err)
	}

	fs, ok := artifact.NewStorage(g.ArtifactURI).(*artifact.FSStorage)
	if !ok {
		return errors.New("seeding requires a filesystem artifact store")
	}
	if err := fs.Save(art); err != nil {
		return fmt.Errorf("save demo artifact: %w", err)
	}
	log.Printf("registered demo version %s (%s)", mv.RunID, mv.Version)

	if c.Promote {
		if _, err := reg.Promote(ctx, mv.RunID); err != nil {
			return fmt.Errorf("promote demo version: %w", err)
		}
		log.Printf("promoted %s to Production", mv.RunID)
	}
	return nil
}

type DriftCmd struct {
	Date      string  `help:"Cycle date (YYYY-MM-DD), defaults to today."`
	Window    int     `default:"14" help:"Live sampling window in days."`
	Threshold float64 `default:"0.1" help:"Default per-feature PSI threshold."`
	Quorum    int     `default:"1" help:"Drifted features required to signal retraining."`
}

func (c *DriftCmd) Run(g *Globals) error {
	st, closeDB, err := openStore(g)
	if err != nil {
		return err
	}
	defer closeDB()

	date := time.Now().UTC()
	if c.Date != "" {
		if date, err = time.Parse("2006-01-02", c.Date); err != nil {
			return fmt.Errorf("parse date: %w", err)
		}
	}

	monitor := drift.NewMonitor(st, newRegistry(g, st), artifact.NewStorage(g.ArtifactURI), g.Family, drift.Config{
		WindowDays: c.Window,
		Threshold:  c.Threshold,
		Quorum:     c.Quorum,
	}, func(_ context.Context, family string, drifted []string) {
		log.Printf("retrain requested for %s: drifted features %v", family, drifted)
	})

	reports, err := monitor.RunCycle(context.Background(), date)
	if err != nil {
		return err
	}
	for _, r := range reports {
		log.Printf("drift: %-14s score=%.4f threshold=%.2f drifted=%v", r.Feature, r.Score, r.Threshold, r.IsDrifted)
	}
	return nil
}

type RegisterCmd struct {
	Version     string `arg:"" help:"Semantic version of the trained model."`
	MetricsFile string `arg:"" type:"existingfile" help:"JSON file of per-target validation metrics."`
}

func (c *RegisterCmd) Run(g *Globals) error {
	st, closeDB, err := openStore(g)
	if err != nil {
		return err
	}
	defer closeDB()

	data, err := os.ReadFile(c.MetricsFile)
	if err != nil {
		return err
	}
	var m map[string]models.TargetMetrics
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse metrics file: %w", err)
	}

	mv, err := newRegistry(g, st).Register(context.Background(), g.Family, c.Version, m)
	if err != nil {
		return err
	}
	fmt.Println(mv.RunID)
	return nil
}

type PromoteCmd struct {
	RunID string `arg:"" help:"Run id of the staged version to promote."`
}

func (c *PromoteCmd) Run(g *Globals) error {
	st, closeDB, err := openStore(g)
	if err != nil {
		return err
	}
	defer closeDB()

	mv, err := newRegistry(g, st).Promote(context.Background(), c.RunID)
	var gateErr *registry.GateError
	switch {
	case errors.As(err, &gateErr):
		return fmt.Errorf("promotion blocked: %w", gateErr)
	case errors.Is(err, registry.ErrConflict):
		return fmt.Errorf("promotion lost to a concurrent attempt: %w", err)
	case err != nil:
		return err
	}
	log.Printf("promoted %s (%s) to Production", mv.RunID, mv.Version)
	return nil
}

type DemoteCmd struct {
	RunID string `arg:"" help:"Run id of the version to archive."`
}

func (c *DemoteCmd) Run(g *Globals) error {
	st, closeDB, err := openStore(g)
	if err != nil {
		return err
	}
	defer closeDB()

	if err := newRegistry(g, st).Demote(context.Background(), c.RunID); err != nil {
		return err
	}
	log.Printf("archived %s", c.RunID)
	return nil
}
