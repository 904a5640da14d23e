// Command apptracker-demo drives the SDK end to end: it loads configuration,
// initializes a tracker against a collector (see apptracker-sink for a local
// one), replays a YAML scenario of events through Track, and reports the
// pending count after a final flush.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	apptracker "github.com/apptracker/apptracker-go"
	"gopkg.in/yaml.v3"
)

// scenario is the YAML shape of a demo event script.
type scenario struct {
	UserID      string          `yaml:"user_id"`
	AnonymousID string          `yaml:"anonymous_id"`
	Events      []scenarioEvent `yaml:"events"`
}

type scenarioEvent struct {
	Name       string         `yaml:"name"`
	Properties map[string]any `yaml:"properties"`
}

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional, env vars apply on top)")
	scenarioPath := flag.String("scenario", "scenario.yaml", "Path to the YAML event scenario")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := apptracker.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	sc, err := loadScenario(*scenarioPath)
	if err != nil {
		slog.Error("Failed to load scenario", "error", err)
		os.Exit(1)
	}

	tracker, err := apptracker.New(cfg)
	if err != nil {
		slog.Error("Failed to create tracker", "error", err)
		os.Exit(1)
	}

	// Events tracked before Initialize are buffered and drained afterwards;
	// fire the first one early to show that off.
	tracker.Track("demo_started", apptracker.Properties{"scenario": *scenarioPath})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := tracker.Initialize(ctx); err != nil {
		slog.Error("Failed to initialize tracker", "error", err)
		os.Exit(1)
	}
	defer tracker.Close()

	if sc.AnonymousID != "" {
		tracker.SetAnonymousID(sc.AnonymousID)
	}
	if sc.UserID != "" {
		tracker.Identify(sc.UserID)
	}

	for _, ev := range sc.Events {
		tracker.Track(ev.Name, ev.Properties)
	}
	slog.Info("Scenario replayed", "events", len(sc.Events))

	if err := tracker.Flush(ctx); err != nil {
		slog.Warn("Flush failed, events retained for retry", "error", err)
	}

	pending, err := tracker.PendingCount(ctx)
	if err != nil {
		slog.Error("Failed to read pending count", "error", err)
		os.Exit(1)
	}
	slog.Info("Demo complete", "pending_events", pending)
}

func loadScenario(path string) (*scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	var sc scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario file: %w", err)
	}
	if len(sc.Events) == 0 {
		return nil, fmt.Errorf("scenario contains no events")
	}
	return &sc, nil
}
