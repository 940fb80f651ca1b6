// Command tractscan refreshes every enabled point feed once, ranks the
// tracts inside one bounding box and prints the overlay as GeoJSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/mr1hm/go-pulsemap/internal/api"
	"github.com/mr1hm/go-pulsemap/internal/client"
	"github.com/mr1hm/go-pulsemap/internal/config"
	"github.com/mr1hm/go-pulsemap/internal/geo"
	"github.com/mr1hm/go-pulsemap/internal/ingestion"
	"github.com/mr1hm/go-pulsemap/internal/logging"
	"github.com/mr1hm/go-pulsemap/internal/observability"
	"github.com/mr1hm/go-pulsemap/internal/tracts"
)

func main() {
	_ = godotenv.Load()

	bboxFlag := flag.String("bbox", "", "bounding box as W,S,E,N")
	timeout := flag.Duration("timeout", 30*time.Second, "overall deadline")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	// stdout carries the GeoJSON
	slog.SetDefault(slog.New(logging.NewHandler(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)))

	bbox, err := geo.ParseBBox(*bboxFlag)
	if err != nil {
		logging.Fatalf("Invalid -bbox: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	metrics := observability.NewMetricsForTesting()
	remote := client.New(cfg.Remote.BaseURL, client.Options{
		Timeout:   cfg.Remote.Timeout,
		RateLimit: cfg.Remote.RateLimit,
		Burst:     cfg.Remote.Burst,
	}, metrics, slog.Default())

	mgr := ingestion.NewManager(cfg, remote, metrics)
	if err := mgr.RefreshAll(ctx); err != nil {
		// stale sources are fine for a one-shot scan
		slog.Warn("some feeds failed", "error", err)
	}
	slog.Info("feeds refreshed", "counts", mgr.Counts())

	fc, err := remote.Tracts(ctx, bbox)
	if err != nil {
		logging.Fatalf("Failed to fetch tracts: %v", err)
	}
	ranked := tracts.Rank(fc, tracts.CandidatePoints(mgr.Points(), bbox))

	out := api.OverlayGeoJSON(tracts.Overlay{Bounds: &bbox, Tracts: ranked})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logging.Fatalf("Failed to write output: %v", err)
	}
	slog.Info("scan complete", "bbox", bbox.String(), "tracts", len(ranked))
}
