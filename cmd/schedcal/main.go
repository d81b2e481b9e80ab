package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"schedcal/internal/calendar"
	"schedcal/internal/config"
	"schedcal/internal/filter"
	"schedcal/internal/ics"
	appLog "schedcal/internal/log"
	"schedcal/internal/model"
	"schedcal/internal/projector"
	"schedcal/internal/refresh"
	"schedcal/internal/store"
	"schedcal/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	logLevel   string
	once       bool
	view       string
	date       string
	importPath string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI flags override the config file when set.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Info("schedcal starting",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"store", conf.Store.Kind,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"once", flags.once,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	st, err := store.Open(conf)
	if err != nil {
		appLog.Error("failed to open store", err, "kind", conf.Store.Kind)
		os.Exit(1)
	}
	defer st.Close()

	if flags.importPath != "" {
		if err := importICS(ctx, conf, st, flags.importPath); err != nil {
			appLog.Error("import failed", err, "path", flags.importPath)
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, conf, st, flags); err != nil && !errors.Is(err, context.Canceled) {
		appLog.Error("schedcal stopped with error", err)
		os.Exit(1)
	}
	appLog.Info("schedcal exiting")
}

func run(ctx context.Context, conf *config.Config, st store.Store, flags flagConfig) error {
	roleColors := make(map[model.Role]string, len(conf.RoleColors))
	for role, color := range conf.RoleColors {
		roleColors[model.Role(role)] = color
	}
	proj := projector.New(projector.Config{
		MaxIterations:     conf.MaxIterations,
		RoleColors:        roleColors,
		DefaultColor:      conf.DefaultColor,
		HighlightKeywords: conf.HighlightKeywords,
		HighlightColor:    conf.HighlightColor,
	})
	agg := calendar.NewAggregator(conf.Location(), conf.WeekStartDay())
	hub := web.NewHub()
	srv := web.NewServer(conf, proj, agg, projector.NewMemo(conf.MemoEntries), hub)

	sched := refresh.NewScheduler(st, srv)
	if _, err := sched.RunOnce(ctx); err != nil {
		if flags.once {
			return fmt.Errorf("initial load: %w", err)
		}
		// Serve an empty calendar until the next tick succeeds.
		appLog.Error("initial load failed", err)
	}

	if flags.once {
		return renderOnce(srv, conf, flags)
	}

	if err := sched.Start(conf.RefreshCron); err != nil {
		return err
	}
	defer sched.Stop()

	go hub.Run(ctx)
	return srv.Serve(ctx)
}

// renderOnce writes one view of the loaded snapshot to stdout as JSON.
func renderOnce(srv *web.Server, conf *config.Config, flags flagConfig) error {
	anchor := time.Now().In(conf.Location())
	if flags.date != "" {
		t, err := time.ParseInLocation("2006-01-02", flags.date, conf.Location())
		if err != nil {
			return fmt.Errorf("invalid -date: %w", err)
		}
		anchor = t
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(srv.Render(flags.view, anchor, filter.Criteria{}))
}

// importICS parses a local .ics file and replaces the contents of a
// writable store with it.
func importICS(ctx context.Context, conf *config.Config, st store.Store, path string) error {
	w, ok := st.(store.Writer)
	if !ok {
		return fmt.Errorf("store kind %q is read-only", conf.Store.Kind)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	res, err := ics.NewParser(conf.Location()).Parse(ics.Source{}, body)
	if err != nil {
		return err
	}
	for _, sk := range res.Skipped {
		appLog.Warn("import skipped event", "event_id", sk.EventID, "reason", sk.Reason)
	}
	if err := w.Replace(ctx, res.Events, res.Exceptions); err != nil {
		return err
	}
	appLog.Info("import completed",
		"path", path,
		"events", len(res.Events),
		"exceptions", len(res.Exceptions),
		"skipped", len(res.Skipped),
	)
	return nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Load the store, print one view as JSON and exit")
	flag.StringVar(&cfg.view, "view", "month", "View for -once: month, week, day or agenda")
	flag.StringVar(&cfg.date, "date", "", "Anchor date for -once (YYYY-MM-DD, default today)")
	flag.StringVar(&cfg.importPath, "import", "", "Import a local .ics file into a file or sqlite store and exit")

	flag.Parse()

	return cfg
}
