package baseline

import (
	"context"
	"log"
	"time"
)

// SampleSource fetches raw samples per metric name, e.g. season player
// lines flattened into per-metric slices. Injected so tests and the
// bootstrap can supply their own source.
type SampleSource func(ctx context.Context) (map[string][]float64, error)

// PersistFunc stores recomputed baselines, keyed by metric name.
// May be nil when persistence is not wired.
type PersistFunc func(ctx context.Context, metrics map[string]any) error

// Refresher recomputes season baselines from a sample source on demand,
// typically driven by a cron schedule.
type Refresher struct {
	store   *Store
	source  SampleSource
	persist PersistFunc
	timeout time.Duration
}

// NewRefresher creates a Refresher. timeout bounds one refresh run;
// <= 0 uses 60s.
func NewRefresher(store *Store, source SampleSource, persist PersistFunc, timeout time.Duration) *Refresher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Refresher{store: store, source: source, persist: persist, timeout: timeout}
}

// Refresh pulls samples and recomputes every baseline. Individual metric
// failures are skipped; the run reports the first source error only.
func (r *Refresher) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	samples, err := r.source(ctx)
	if err != nil {
		return err
	}

	computed := make(map[string]any, len(samples))
	for name, xs := range samples {
		m, ok := r.store.Compute(name, xs)
		if !ok {
			continue
		}
		computed[name] = m
	}
	log.Printf("[baseline] refreshed %d baselines", len(computed))

	if r.persist != nil && len(computed) > 0 {
		if err := r.persist(ctx, computed); err != nil {
			log.Printf("[baseline] persist failed: %v", err)
		}
	}
	return nil
}
