package main

import (
	"fmt"
	"os"

	"drmirror/internal/command"
	"drmirror/internal/config"
	"drmirror/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(logging.Options{
		Level:     cfg.LogLevel,
		Component: "drmirror",
	})

	app := command.BuildApp(buildDeps(cfg, logger))
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
