package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"typeinject/internal/config"
	"typeinject/internal/engine"
	"typeinject/internal/logging"
)

const usage = `usage: typeinject <command> [-config typeinject.yml]

commands:
  gen    rewrite marked functions into shadow files and an overlay.json
  serve  serve the Rewriter gRPC service and /metrics
`

func main() {
	logging.InitFromEnv()
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd := os.Args[1]
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	cfgPath := fs.String("config", "typeinject.yml", "config file (missing file means defaults)")
	_ = fs.Parse(os.Args[2:])

	cfg, err := config.LoadConfig(*cfgPath)
	if err != nil {
		logging.L().Error("config", "path", *cfgPath, "err", err)
		os.Exit(1)
	}
	if cfg.Log.Level != "" || cfg.Log.JSON {
		logging.Configure(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "gen":
		sum, err := engine.Generate(ctx, cfg)
		if err != nil {
			logging.L().Error("gen", "err", err)
			os.Exit(1)
		}
		if sum.Changed > 0 {
			fmt.Printf("typeinject: %d function(s) in %d file(s); build with -overlay=%s/overlay.json\n",
				sum.Functions, sum.Changed, cfg.Overlay.CacheDir)
		}
	case "serve":
		e, err := engine.Bootstrap(ctx, cfg)
		if err != nil {
			logging.L().Error("bootstrap", "err", err)
			os.Exit(1)
		}
		if err := e.Run(ctx); err != nil {
			logging.L().Error("engine", "err", err)
			os.Exit(1)
		}
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}
