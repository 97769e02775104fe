package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jusunglee/train-schedules/internal/config"
	"github.com/jusunglee/train-schedules/internal/feed"
	"github.com/jusunglee/train-schedules/internal/live"
	"github.com/jusunglee/train-schedules/internal/logger"
	"github.com/jusunglee/train-schedules/internal/models"
	"github.com/jusunglee/train-schedules/internal/store"
	"github.com/jusunglee/train-schedules/pkg/trains"
)

type options struct {
	start, end int64
	hasStart   bool
	hasEnd     bool
	limit      int
	live       bool
	stations   bool
	driver     string
	path       string
}

// parseArgs reads the command line. Station id 0 is valid, so hasStart and
// hasEnd record whether the flag was given at all.
func parseArgs(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("local", flag.ContinueOnError)
	fs.Int64Var(&opts.start, "start", 0, "Origin station id")
	fs.Int64Var(&opts.end, "end", 0, "Destination station id (optional)")
	fs.IntVar(&opts.limit, "limit", 5, "Maximum trains to show")
	fs.BoolVar(&opts.live, "live", false, "Include real-time estimates (needs API_KEY)")
	fs.BoolVar(&opts.stations, "stations", false, "List stations and exit")
	fs.StringVar(&opts.driver, "driver", "", "Schedule source: sqlite3, pgx or gtfs")
	fs.StringVar(&opts.path, "db", "", "Schedule database path or GTFS zip")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "start":
			opts.hasStart = true
		case "end":
			opts.hasEnd = true
		}
	})
	if opts.limit < 0 {
		return options{}, fmt.Errorf("invalid -limit %d: must not be negative", opts.limit)
	}
	return opts, nil
}

func main() {
	opts, err := parseArgs(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if opts.driver != "" {
		cfg.DBDriver = opts.driver
	}
	if opts.path != "" {
		cfg.DBPath = opts.path
	}

	log := logger.New(logger.ParseLevel("warn"), logger.ConsoleWriter())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.LoadTimeout)
	defer cancel()

	snap, err := store.Open(ctx, cfg.Source(), log)
	if err != nil {
		log.Error("Failed to load schedule", "error", err)
		os.Exit(1)
	}

	clientConfig := trains.Config{Location: cfg.Location, Logger: log}
	if opts.live {
		if !cfg.LiveEnabled() {
			log.Error("Live estimates need API_KEY")
			os.Exit(1)
		}
		merger := live.NewMerger(snap, cfg.Location)
		clientConfig.Live = live.NewCache(feed.NewClient(cfg.Feed()), merger, log)
	}
	client := trains.NewLocal(snap, clientConfig)

	if opts.stations || !opts.hasStart {
		fmt.Println("Stations:")
		for _, st := range client.Stations() {
			fmt.Printf("- %s (%d)\n", st.Name, st.ID)
		}
		return
	}

	now := time.Now().In(cfg.Location)

	if !opts.hasEnd {
		stops, err := client.Upcoming(ctx, opts.start, now, opts.live)
		if err != nil {
			log.Error("Failed to get upcoming trains", "station", opts.start, "error", err)
			os.Exit(1)
		}
		station, _ := client.Station(opts.start)

		fmt.Printf("\nNext trains at %s:\n", station.Name)
		for _, stop := range stops[:min(opts.limit, len(stops))] {
			fmt.Printf("  %4d %-8s %s\n", stop.TripID, models.TierForTrip(stop.TripID), formatTime(stop.Departure))
		}
		return
	}

	list, err := client.TwoStops(ctx, opts.start, opts.end, now, opts.live)
	if err != nil {
		log.Error("Failed to get trips", "start", opts.start, "end", opts.end, "error", err)
		os.Exit(1)
	}

	fmt.Printf("\n%s to %s:\n", list.Start.Name, list.End.Name)
	for _, trip := range list.Trips[:min(opts.limit, len(list.Trips))] {
		fmt.Printf("  %4d %-8s %s -> %s  (%s)\n",
			trip.TripID, trip.Tier,
			formatTime(trip.Start.Departure), formatTime(trip.End.Arrival),
			trip.TransitTime().Round(time.Minute))
	}
}

// formatTime shows the estimate next to the scheduled time when they differ
func formatTime(t models.Time) string {
	s := t.Scheduled.Format("3:04 PM")
	if d := t.Delay(); d != 0 {
		s += fmt.Sprintf(" (est. %s, %+d min)", t.EffectiveTime().Format("3:04 PM"), int(d.Minutes()))
	}
	return s
}
