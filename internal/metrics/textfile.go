// Package metrics exports run results for the node_exporter textfile collector.
//
// The bot is a short-lived process started by a scheduler, so nothing can be
// scraped. Instead each run overwrites a .prom file that node_exporter picks
// up from its textfile directory.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joschi/blueskyfeedbot/internal/pipeline"
)

const namespace = "blueskyfeedbot"

// Textfile writes the metrics of the last run to a file.
type Textfile struct {
	path     string
	registry *prometheus.Registry

	lastRun   prometheus.Gauge
	success   prometheus.Gauge
	duration  prometheus.Gauge
	firstRun  prometheus.Gauge
	entries   *prometheus.GaugeVec
	cacheSize prometheus.Gauge
	evicted   prometheus.Gauge
}

// NewTextfile creates a recorder writing to path. Every series carries the
// feed URL as a constant label.
func NewTextfile(path, feedURL string) *Textfile {
	labels := prometheus.Labels{"feed": feedURL}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	t := &Textfile{
		path:      path,
		registry:  prometheus.NewRegistry(),
		lastRun:   gauge("last_run_timestamp_seconds", "Unix time the last run finished."),
		success:   gauge("last_run_success", "Whether the last run finished without error."),
		duration:  gauge("last_run_duration_seconds", "Wall time of the last run."),
		firstRun:  gauge("last_run_first_run", "Whether the last run started without a cache."),
		cacheSize: gauge("cache_entries", "Digests in the cache after the last run."),
		evicted:   gauge("cache_evicted_entries", "Digests evicted by the last run."),
		entries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "last_run_entries",
			Help:        "Entries handled by the last run, by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
	}
	t.registry.MustRegister(
		t.lastRun, t.success, t.duration, t.firstRun,
		t.entries, t.cacheSize, t.evicted,
	)
	return t
}

// Path returns the output file.
func (t *Textfile) Path() string {
	return t.path
}

// ObserveRun records r and rewrites the textfile.
func (t *Textfile) ObserveRun(r *pipeline.Report) error {
	t.lastRun.Set(float64(r.FinishedAt.UnixMilli()) / 1000)
	t.success.Set(boolValue(r.Err == nil))
	t.duration.Set(r.Duration().Seconds())
	t.firstRun.Set(boolValue(r.FirstRun))
	t.cacheSize.Set(float64(r.CacheAfter))
	t.evicted.Set(float64(r.Evicted))

	t.entries.WithLabelValues("fetched").Set(float64(r.Fetched))
	t.entries.WithLabelValues("new").Set(float64(r.New))
	t.entries.WithLabelValues("posted").Set(float64(r.Posted))
	t.entries.WithLabelValues("skipped").Set(float64(r.SkippedByLimit))
	t.entries.WithLabelValues("failed").Set(float64(len(r.Failures)))

	if err := os.MkdirAll(filepath.Dir(t.path), 0755); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(t.path, t.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", t.path, err)
	}
	return nil
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
