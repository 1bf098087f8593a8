package main

import (
	"flag"
	"fmt"
	"os"

	"LinePulse/internal/di"
	"LinePulse/pkg/config"
)

func main() {
	configPath := flag.String("config", "", "config file path (defaults and LINEPULSE_* env only when empty)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "linepulse: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer cleanup()

	return app.Run()
}
