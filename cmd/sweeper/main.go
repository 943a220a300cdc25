// cmd/sweeper/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "configs/config.json", "path to config file")
	flag.BoolVar(&opts.tui, "tui", false, "run the interactive terminal UI")
	flag.BoolVar(&opts.reclaim, "reclaim", false, "close empty token accounts")
	flag.BoolVar(&opts.convert, "convert", false, "convert dust worth converting into SOL")
	flag.BoolVar(&opts.yes, "yes", false, "sign every transaction without asking")
	flag.StringVar(&opts.export, "export", "", "export operation history as csv or json and exit")
	flag.StringVar(&opts.exportDir, "export-dir", "exports", "directory for exported history")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintln(os.Stderr, "sweeper:", err)
		os.Exit(1)
	}
}
