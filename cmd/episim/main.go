// Package main runs one epidemic simulation.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	episimcmd "github.com/mesaricr/matsim-episim-libs/internal/cmd/episim"
	"github.com/mesaricr/matsim-episim-libs/internal/platform/config"
	apperrors "github.com/mesaricr/matsim-episim-libs/internal/platform/errors"
)

func main() {
	cfg, err := episimcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.ExitCodef(2, "parse flags: %v", err)
	}
	log.SetPrefix("[EPISIM] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := episimcmd.Run(ctx, cfg); err != nil {
		stop()
		config.ExitCodef(apperrors.GetCode(err).ExitCode(), "run failed: %v", err)
	}
}
