// Package probe parses health probe flags and checks a running simulation.
package probe

import (
	"context"
	"flag"
	"log"
	"time"

	entrypoint "github.com/mesaricr/matsim-episim-libs/internal/platform/cmd"
	platformgrpc "github.com/mesaricr/matsim-episim-libs/internal/platform/grpc"
	"github.com/mesaricr/matsim-episim-libs/internal/platform/timeouts"
	episimapp "github.com/mesaricr/matsim-episim-libs/internal/services/episim/app"
)

// Config holds probe command configuration.
type Config struct {
	Addr    string        `env:"EPISIM_PROBE_ADDR" envDefault:"localhost:8099"`
	Service string        `env:"EPISIM_PROBE_SERVICE"`
	Timeout time.Duration `env:"EPISIM_PROBE_TIMEOUT"`
	Verbose bool          `env:"EPISIM_PROBE_VERBOSE"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{Service: episimapp.HealthService, Timeout: timeouts.GRPCDial}
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.Service == "" {
		cfg.Service = episimapp.HealthService
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = timeouts.GRPCDial
	}
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "Health gRPC address of the running simulation")
	fs.StringVar(&cfg.Service, "service", cfg.Service, "Health service name to check")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "How long to wait for SERVING")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Log each health poll")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run checks the health service once, waiting up to the configured timeout.
func Run(ctx context.Context, cfg Config) error {
	var logf func(string, ...any)
	if cfg.Verbose {
		logf = log.Printf
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceProbe, "", func(ctx context.Context) error {
		return platformgrpc.Probe(ctx, cfg.Addr, cfg.Service, cfg.Timeout, logf)
	})
}
