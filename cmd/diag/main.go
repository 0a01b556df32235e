package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/debrisk/debrisk/internal/batch"
	"github.com/debrisk/debrisk/internal/ml"
	"github.com/debrisk/debrisk/internal/tle"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if len(os.Args) < 2 {
		fmt.Println("usage: diag <tle-file> [forecast-days]")
		os.Exit(1)
	}

	forecastDays := 30
	if len(os.Args) > 2 {
		if _, err := fmt.Sscanf(os.Args[2], "%d", &forecastDays); err != nil {
			fmt.Println("ERROR parsing forecast days:", err)
			os.Exit(1)
		}
	}

	f, err := os.Open(os.Args[1])
	if err != nil {
		fmt.Println("ERROR opening TLE file:", err)
		os.Exit(1)
	}
	defer f.Close()

	records, failures, err := tle.ParseSet(f, time.Now(), logger)
	if err != nil {
		fmt.Println("ERROR parsing TLE set:", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d element sets (%d parse failures)\n", len(records), len(failures))
	for _, fe := range failures {
		fmt.Printf("  skipped %q: %v\n", fe.Name, fe.Err)
	}

	ensemble := ml.NewEnsemble(ml.Config{TrainingSamples: 500}, logger)
	ctx := context.Background()

	start := time.Now()
	if _, err := ensemble.Train(ctx, 0); err != nil {
		fmt.Println("ERROR training ensemble:", err)
		os.Exit(1)
	}
	fmt.Printf("Ensemble trained in %v\n", time.Since(start).Round(time.Millisecond))

	pool := batch.NewPool(4, 0, logger)
	defer pool.Close()
	svc := batch.NewService(nil, ensemble, pool, batch.Config{}, logger)

	results := make([]batch.ObjectResult, 0, len(records))
	for _, rec := range records {
		res, err := svc.Assess(ctx, rec, forecastDays)
		if err != nil {
			fmt.Printf("  NORAD %d: ERROR %v\n", rec.CatalogNumber, err)
			continue
		}
		results = append(results, *res)
		fmt.Printf("  NORAD %-6d %-24s alt=%7.1fkm risk=%.3f %s reentry in %.0fd\n",
			res.Satellite.CatalogNumber, res.Satellite.Name,
			res.Orbit.AltitudeKM, res.Risk.OverallReentryRisk,
			res.Risk.Category, res.Reentry.DaysFromNow)
	}

	sum := svc.Summarize(results)
	fmt.Printf("\nAssessed %d objects: %d high / %d medium / %d low, %d reentries within 30d\n",
		sum.TotalSatellites, sum.RiskDistribution.High, sum.RiskDistribution.Medium,
		sum.RiskDistribution.Low, sum.ReentriesWithin30Days)
	fmt.Printf("Threat level: %s\n", batch.ThreatLevel(sum))
}
