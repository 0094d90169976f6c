// Command relay serves the whistleblower relay HTTP API: topic creation,
// message anchoring, token transfers and balance queries.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/whistlenet/hcs-relay/internal/app"
	"github.com/whistlenet/hcs-relay/internal/config"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	configFile := flag.String("config", "", "YAML config file (overrides "+config.ConfigFileVar+")")
	flag.Parse()

	if *configFile != "" {
		if err := os.Setenv(config.ConfigFileVar, *configFile); err != nil {
			log.Fatalf("set config file: %v", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("build relay: %v", err)
	}
	if err := application.Run(ctx); err != nil {
		log.Fatalf("relay: %v", err)
	}
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetPrefix("[relay] ")
}
