// ledlinkd: LED controller daemon.
// Serves the WebSocket control channel and JSON API for a reference strip.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/teslashibe/go-ledlink/internal/config"
	"github.com/teslashibe/go-ledlink/internal/log"
	"github.com/teslashibe/go-ledlink/pkg/device"
	"github.com/teslashibe/go-ledlink/pkg/web"
)

var version = "0.3.0"

var (
	flagConfig    string
	flagListen    string
	flagProfile   string
	flagLEDs      int
	flagMatrix    string
	flagName      string
	flagLogLevel  string
	flagLogFormat string
	flagJournal   bool
	flagAccessLog bool
	flagVersion   bool
)

func init() {
	flag.StringVarP(&flagConfig, "config", "c", "", "YAML config file")
	flag.StringVarP(&flagListen, "listen", "l", config.DefaultListen, "HTTP listen address")
	flag.StringVarP(&flagProfile, "profile", "p", "", "Platform profile (constrained, standard)")
	flag.IntVarP(&flagLEDs, "leds", "n", config.DefaultLEDs, "Number of LEDs on a linear strip")
	flag.StringVarP(&flagMatrix, "matrix", "m", "", "Matrix geometry, WxH")
	flag.StringVar(&flagName, "name", "", "Instance name reported in info")
	flag.StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&flagLogFormat, "log-format", "", "Log format (text, json)")
	flag.BoolVar(&flagJournal, "journal", false, "Also log to the systemd journal")
	flag.BoolVar(&flagAccessLog, "access-log", false, "Log every HTTP request")
	flag.BoolVarP(&flagVersion, "version", "v", false, "Print version information and exit")
}

// applyFlags overlays flags the user actually set.
func applyFlags(cfg *config.Config) error {
	if flag.CommandLine.Changed("listen") {
		cfg.Listen = flagListen
	}
	if flagProfile != "" {
		cfg.Profile = flagProfile
	}
	if flag.CommandLine.Changed("leds") {
		cfg.Strip.LEDs = flagLEDs
		cfg.Strip.Width, cfg.Strip.Height = 0, 0
	}
	if flagMatrix != "" {
		w, h, err := config.ParseMatrix(flagMatrix)
		if err != nil {
			return err
		}
		cfg.Strip.Width, cfg.Strip.Height = w, h
	}
	if flagName != "" {
		cfg.Strip.Name = flagName
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Log.Format = flagLogFormat
	}
	if flagJournal {
		cfg.Log.Journal = true
	}
	if flagAccessLog {
		cfg.Log.Access = true
	}
	return nil
}

func main() {
	flag.Parse()
	if flagVersion {
		fmt.Println("ledlinkd " + version)
		return
	}

	cfg, err := config.Load(flagConfig)
	if err == nil {
		err = applyFlags(&cfg)
	}
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "ledlinkd:", err)
		os.Exit(2)
	}

	log.Init(log.Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Journal: cfg.Log.Journal,
	})

	profile, err := cfg.Platform()
	if err != nil {
		log.Error("platform profile", "error", err)
		os.Exit(2)
	}

	strip := device.NewStrip(device.Options{
		Name:   cfg.Strip.Name,
		Length: cfg.Strip.LEDs,
		Width:  cfg.Strip.Width,
		Height: cfg.Strip.Height,
	})

	srv, err := web.NewServer(strip, web.Options{
		Addr:              cfg.Listen,
		WSPath:            cfg.WSPath,
		Profile:           profile,
		SplitThreshold:    cfg.SplitThreshold,
		Tick:              cfg.Tick,
		LiveInterval:      cfg.LiveInterval,
		BroadcastCooldown: cfg.BroadcastCooldown,
		AccessLog:         cfg.Log.Access,
		Logger:            log.L(),
	})
	if err != nil {
		log.Error("server setup failed", "error", err)
		os.Exit(1)
	}

	log.Info("starting ledlinkd",
		"version", version,
		"leds", strip.Length(),
		"uid", strip.UID(),
		"profile", profile.Name,
		"max_live_leds", profile.MaxLiveLEDs,
		"max_clients", profile.MaxClients)
	srv.StartAsync()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("shutdown error", "error", err)
	}
}
