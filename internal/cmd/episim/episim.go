// Package episim parses simulation command flags and launches a run.
package episim

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"

	entrypoint "github.com/mesaricr/matsim-episim-libs/internal/platform/cmd"
	"github.com/mesaricr/matsim-episim-libs/internal/platform/id"
	episimapp "github.com/mesaricr/matsim-episim-libs/internal/services/episim/app"
)

// Config holds simulation command configuration.
type Config struct {
	Scenario        string `env:"EPISIM_SCENARIO"`
	RunID           string `env:"EPISIM_RUN_ID"`
	Seed            int64  `env:"EPISIM_SEED"`
	Days            int    `env:"EPISIM_DAYS"`
	Resume          bool   `env:"EPISIM_RESUME"`
	CheckpointEvery int    `env:"EPISIM_CHECKPOINT_EVERY" envDefault:"7"`
	DBPath          string `env:"EPISIM_DB_PATH" envDefault:"data/episim.db"`
	PostgresURL     string `env:"EPISIM_POSTGRES_URL"`
	ReportPath      string `env:"EPISIM_REPORT_PATH"`
	HealthPort      int    `env:"EPISIM_HEALTH_PORT"`
	HTTPAddr        string `env:"EPISIM_HTTP_ADDR"`
	Locale          string `env:"EPISIM_LOCALE" envDefault:"en"`
	Quiet           bool   `env:"EPISIM_QUIET"`
}

// ParseConfig parses environment and flags into a Config. The scenario may
// also be given as the single positional argument.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Scenario, "scenario", cfg.Scenario, "Scenario YAML file")
	fs.StringVar(&cfg.RunID, "run-id", cfg.RunID, "Run id (UUID); generated when empty")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "Override the scenario seed when non-zero")
	fs.IntVar(&cfg.Days, "days", cfg.Days, "Override the number of simulated days when positive")
	fs.BoolVar(&cfg.Resume, "resume", cfg.Resume, "Continue from the run's last checkpoint")
	fs.IntVar(&cfg.CheckpointEvery, "checkpoint-every", cfg.CheckpointEvery, "Checkpoint interval in days; zero disables periodic checkpoints")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The run SQLite database path")
	fs.StringVar(&cfg.PostgresURL, "postgres-url", cfg.PostgresURL, "Optional Postgres URL receiving run reports")
	fs.StringVar(&cfg.ReportPath, "report", cfg.ReportPath, "Optional tab separated daily report file")
	fs.IntVar(&cfg.HealthPort, "health-port", cfg.HealthPort, "gRPC health port while running; zero disables it")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "Status API address while running; empty disables it")
	fs.StringVar(&cfg.Locale, "locale", cfg.Locale, "Locale for the final summary")
	fs.BoolVar(&cfg.Quiet, "quiet", cfg.Quiet, "Skip the final summary")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if rest := fs.Args(); len(rest) > 0 && strings.TrimSpace(cfg.Scenario) == "" {
		cfg.Scenario = rest[0]
	}
	return cfg, nil
}

// Run executes one simulation run.
func Run(ctx context.Context, cfg Config) error {
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = id.NewRunID()
	}
	runtime := episimapp.RuntimeConfig{
		ScenarioPath:    cfg.Scenario,
		RunID:           cfg.RunID,
		Seed:            cfg.Seed,
		Days:            cfg.Days,
		Resume:          cfg.Resume,
		CheckpointEvery: cfg.CheckpointEvery,
		DBPath:          cfg.DBPath,
		PostgresURL:     cfg.PostgresURL,
		ReportPath:      cfg.ReportPath,
		HealthPort:      cfg.HealthPort,
		HTTPAddr:        cfg.HTTPAddr,
		Locale:          cfg.Locale,
		Logger:          log.Default(),
	}
	if !cfg.Quiet {
		runtime.Summary = os.Stdout
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceEpisim, cfg.RunID, func(ctx context.Context) error {
		return episimapp.Run(ctx, runtime)
	})
}
