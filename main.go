package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/echo-music/echo-server/cmd"
	"github.com/echo-music/echo-server/internal/conf"
	"github.com/echo-music/echo-server/internal/logging"
)

// version is populated at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	logging.Init()

	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}
	settings.Version = version

	if settings.Debug {
		logging.SetLevel(slog.LevelDebug)
	}

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
