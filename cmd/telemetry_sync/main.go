package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/telemetryrush/replay/internal/config"
)

// build info - BuildDate can be set at build time via ldflags
var (
	Version   string = "0.0.1"
	BuildDate string = "unknown"

	BinaryName string = "telemetry_sync"
)

func main() {
	flags := pflag.NewFlagSet(BinaryName, pflag.ExitOnError)
	configDir := flags.StringP("config", "c", ".", "directory containing "+config.FileName)
	flags.String("log-level", "", "overrides logLevel (debug, info, warn, error)")
	flags.String("track", "", "overrides track.file")
	flags.Bool("server", false, "overrides server.enabled")
	flags.Bool("poll", false, "overrides poll.enabled")
	showVersion := flags.BoolP("version", "v", false, "print version and exit")
	_ = flags.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("%s %s (built %s)\n", BinaryName, Version, BuildDate)
		return
	}

	// flags only win when set on the command line
	for key, name := range map[string]string{
		"logLevel":       "log-level",
		"track.file":     "track",
		"server.enabled": "server",
		"poll.enabled":   "poll",
	} {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "binding flag %s: %v\n", name, err)
			os.Exit(2)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configDir); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", BinaryName, err)
		os.Exit(1)
	}
}
