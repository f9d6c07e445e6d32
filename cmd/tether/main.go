package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/five82/tether/internal/app"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "override tether config path (optional)")
	prefsPath := flag.String("prefs", "", "override prefs path (optional)")
	poll := flag.Duration("poll", 0, "backend poll interval (optional, defaults to the configured value)")
	demo := flag.Bool("demo", false, "serve a built-in data set instead of connecting to a backend")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := app.Options{ConfigPath: *configPath, PrefsPath: *prefsPath, Demo: *demo}
	if *poll > 0 {
		opts.PollEvery = *poll
	}

	if err := app.Run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "tether: %v\n", err)
		return 1
	}
	return 0
}
