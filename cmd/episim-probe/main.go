// Package main checks the health of a running simulation.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	probecmd "github.com/mesaricr/matsim-episim-libs/internal/cmd/probe"
	"github.com/mesaricr/matsim-episim-libs/internal/platform/config"
)

func main() {
	cfg, err := probecmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[PROBE] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := probecmd.Run(ctx, cfg); err != nil {
		stop()
		config.Exitf("unhealthy: %v", err)
	}
}
