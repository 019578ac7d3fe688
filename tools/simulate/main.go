package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"twin-rules/internal/observability/logging"
	ruleapp "twin-rules/internal/rules/application"
	rules "twin-rules/internal/rules/domain"
	"twin-rules/internal/rules/interfaces/export"
	telemetry "twin-rules/internal/telemetry/domain"
	"twin-rules/internal/telemetry/infrastructure/file"
	samplerepo "twin-rules/internal/telemetry/infrastructure/postgres"
	twins "twin-rules/internal/twins/domain"
	twinsmem "twin-rules/internal/twins/infrastructure/memory"
	twinrepo "twin-rules/internal/twins/infrastructure/postgres"
)

const timeLayout = "2006-01-02T15:04"

type config struct {
	scenarioPath string
	inputPath    string
	dbURL        string
	twinID       string
	start        string
	end          string
	window       time.Duration
	timeZone     string
	outDir       string
	formats      string
	compress     bool
	logLevel     string
}

// scenario is the YAML document describing the rule to replay and, when no
// database is used, the twins it binds against.
type scenario struct {
	Rule    rules.Rule             `yaml:"rule"`
	Macros  []rules.GlobalVariable `yaml:"macros"`
	Twins   []twins.Twin           `yaml:"twins"`
	Extends []struct {
		Model  string `yaml:"model"`
		Parent string `yaml:"parent"`
	} `yaml:"extends"`
	Relationships []struct {
		Source string `yaml:"source"`
		Target string `yaml:"target"`
	} `yaml:"relationships"`
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	logger := logging.New(cfg.logLevel, "console")
	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Error().Err(err).Msg("simulation failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config, logger zerolog.Logger) error {
	sc, err := loadScenario(cfg.scenarioPath)
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(cfg.timeZone)
	if err != nil {
		return fmt.Errorf("time zone: %w", err)
	}
	start, err := parseWallClock(cfg.start)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	end, err := parseWallClock(cfg.end)
	if err != nil {
		return fmt.Errorf("end: %w", err)
	}

	var (
		directory twins.Directory
		source    telemetry.Source
	)
	if cfg.dbURL != "" {
		db, err := sql.Open("pgx", cfg.dbURL)
		if err != nil {
			return fmt.Errorf("db open: %w", err)
		}
		defer db.Close()
		pgDirectory := twinrepo.NewDirectory(db)
		directory = pgDirectory
		if cfg.inputPath == "" {
			trends, err := inputTrends(ctx, pgDirectory, sc, cfg.twinID, loc)
			if err != nil {
				return err
			}
			// History bounds are UTC; the simulator narrows to the twin-local range.
			source = samplerepo.NewSampleRepository(db).History(trends, time.Time{}, time.Time{})
		}
	} else {
		mem, err := memoryDirectory(sc)
		if err != nil {
			return err
		}
		directory = mem
	}
	if source == nil {
		if cfg.inputPath == "" {
			return errors.New("missing --input (or --db to read stored history)")
		}
		slice, err := file.Open(cfg.inputPath, loc)
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		source = slice
	}

	sim, err := ruleapp.NewSimulator(directory,
		ruleapp.WithSimulatorLogger(logger),
		ruleapp.WithSimulatorLocation(loc),
	)
	if err != nil {
		return err
	}
	res, err := sim.Run(ctx, ruleapp.SimulationRequest{
		Rule:    sc.Rule,
		Macros:  sc.Macros,
		TwinID:  cfg.twinID,
		Start:   start,
		End:     end,
		Window:  cfg.window,
		Options: ruleapp.ActorOptions{EnableCompression: cfg.compress, OptimizeCompression: cfg.compress},
	}, source)
	if err != nil {
		if res != nil {
			for _, failure := range res.Instance.Failures {
				logger.Warn().Str("twin_id", cfg.twinID).Msg(failure)
			}
		}
		return err
	}

	if err := os.MkdirAll(cfg.outDir, 0o755); err != nil {
		return fmt.Errorf("create out dir: %w", err)
	}
	base := fmt.Sprintf("%s_%s", sc.Rule.ID, cfg.twinID)
	for _, format := range strings.Split(cfg.formats, ",") {
		format = strings.TrimSpace(strings.ToLower(format))
		if format == "" {
			continue
		}
		data, err := export.Build(format, res)
		if err != nil {
			return err
		}
		path := filepath.Join(cfg.outDir, base+"."+format)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		logger.Info().Str("path", path).Msg("report written")
	}

	faulted := 0
	if res.Insight != nil {
		faulted = res.Insight.FaultedCount
	}
	fmt.Printf("rule=%s twin=%s samples=%d evaluated=%d skipped=%d faulted=%d insights_generated=%d\n",
		sc.Rule.ID, cfg.twinID, res.Samples, res.Stats.Evaluated, res.Stats.Skipped, faulted, res.Metadata.InsightsGenerated)
	return nil
}

func parseFlags() (config, error) {
	var cfg config
	flag.StringVar(&cfg.scenarioPath, "scenario", "", "YAML file with the rule, macros and twins")
	flag.StringVar(&cfg.inputPath, "input", "", "CSV or XLSX telemetry file")
	flag.StringVar(&cfg.dbURL, "db", getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")), "Postgres DSN for twins and stored history (optional)")
	flag.StringVar(&cfg.twinID, "twin", "", "twin id to evaluate the rule on")
	flag.StringVar(&cfg.start, "start", "", "start as YYYY-MM-DDTHH:MM in the twin time zone (optional)")
	flag.StringVar(&cfg.end, "end", "", "end as YYYY-MM-DDTHH:MM in the twin time zone (optional)")
	flag.DurationVar(&cfg.window, "window", 0, "evaluation window used to count generated insights")
	flag.StringVar(&cfg.timeZone, "tz", getenvDefault("DEFAULT_TIMEZONE", "UTC"), "time zone for input timestamps and twins without one")
	flag.StringVar(&cfg.outDir, "out", "./out", "output directory")
	flag.StringVar(&cfg.formats, "format", "xlsx,pdf", "comma separated report formats")
	flag.BoolVar(&cfg.compress, "compress", false, "enable output compression")
	flag.StringVar(&cfg.logLevel, "log-level", getenvDefault("LOG_LEVEL", "info"), "log level")
	flag.Parse()

	if cfg.scenarioPath == "" {
		return cfg, errors.New("missing --scenario")
	}
	if cfg.twinID == "" {
		return cfg, errors.New("missing --twin")
	}
	return cfg, nil
}

func loadScenario(path string) (scenario, error) {
	var sc scenario
	data, err := os.ReadFile(path)
	if err != nil {
		return sc, err
	}
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return sc, fmt.Errorf("parse scenario: %w", err)
	}
	if err := sc.Rule.Validate(); err != nil {
		return sc, err
	}
	return sc, nil
}

func memoryDirectory(sc scenario) (*twinsmem.Directory, error) {
	if len(sc.Twins) == 0 {
		return nil, errors.New("scenario has no twins; pass --db to use the stored directory")
	}
	d := twinsmem.NewDirectory()
	for _, twin := range sc.Twins {
		if err := d.Upsert(twin); err != nil {
			return nil, fmt.Errorf("twin %s: %w", twin.ID, err)
		}
	}
	for _, e := range sc.Extends {
		d.Extend(e.Model, e.Parent)
	}
	for _, r := range sc.Relationships {
		d.Relate(r.Source, r.Target)
	}
	return d, nil
}

// inputTrends binds the rule once to learn which trends feed it.
func inputTrends(ctx context.Context, directory twins.Directory, sc scenario, twinID string, loc *time.Location) ([]string, error) {
	binder, err := ruleapp.NewBinder(directory, ruleapp.WithDefaultLocation(loc))
	if err != nil {
		return nil, err
	}
	twin, err := directory.Get(ctx, twinID)
	if err != nil {
		return nil, fmt.Errorf("twin %s: %w", twinID, err)
	}
	bound, err := binder.Bind(ctx, sc.Rule, *twin, sc.Macros, ruleapp.BindVersion{})
	if err != nil {
		return nil, err
	}
	trends := make([]string, 0, len(bound.Inputs()))
	for trend := range bound.Inputs() {
		trends = append(trends, trend)
	}
	return trends, nil
}

func parseWallClock(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, value)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}
