package baseline

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/nexus-vanguard/vanguard/internal/model"
)

func TestComputeBasicStats(t *testing.T) {
	s := NewStore(0)
	samples := []float64{10, 20, 30, 40, 50}
	m, ok := s.Compute("rtt_ms", samples)
	if !ok {
		t.Fatal("compute returned false for non-empty samples")
	}
	if m.Mean != 30 {
		t.Fatalf("mean = %v, want 30", m.Mean)
	}
	if m.P50 != 30 {
		t.Fatalf("p50 = %v, want 30", m.P50)
	}
	if m.P95 != 50 {
		t.Fatalf("p95 = %v, want 50", m.P95)
	}
	if m.SampleCount != 5 {
		t.Fatalf("sample count = %d, want 5", m.SampleCount)
	}
	if m.Std <= 0 {
		t.Fatalf("std = %v, want > 0", m.Std)
	}

	got, ok := s.Get("rtt_ms")
	if !ok || got.Mean != 30 {
		t.Fatalf("get returned %+v ok=%v", got, ok)
	}
}

func TestComputeEmptySamples(t *testing.T) {
	s := NewStore(0)
	if _, ok := s.Compute("x", nil); ok {
		t.Fatal("compute accepted empty samples")
	}
}

func TestZScore(t *testing.T) {
	s := NewStore(0)
	s.Put(model.BaselineMetric{Name: "ts_pct", Mean: 0.55, Std: 0.05})

	z, ok := s.ZScore("ts_pct", 0.65)
	if !ok {
		t.Fatal("zscore unavailable")
	}
	if math.Abs(z-2.0) > 1e-9 {
		t.Fatalf("z = %v, want 2.0", z)
	}

	if !s.Anomalous("ts_pct", 0.75, 3.0) {
		t.Fatal("0.75 should be anomalous at 4 std")
	}
	if s.Anomalous("ts_pct", 0.60, 3.0) {
		t.Fatal("0.60 should not be anomalous")
	}

	// Zero variance never flags.
	s.Put(model.BaselineMetric{Name: "flat", Mean: 1, Std: 0})
	if _, ok := s.ZScore("flat", 100); ok {
		t.Fatal("zscore computed against zero variance")
	}
}

func TestExpiryAndSweep(t *testing.T) {
	s := NewStore(time.Hour)
	s.Put(model.BaselineMetric{Name: "old", Mean: 1, Std: 1, ExpiresAtNs: time.Now().Add(-time.Minute).UnixNano()})
	s.Put(model.BaselineMetric{Name: "fresh", Mean: 1, Std: 1})

	if _, ok := s.Get("old"); ok {
		t.Fatal("expired baseline returned from Get")
	}
	if _, ok := s.Get("fresh"); !ok {
		t.Fatal("fresh baseline missing")
	}

	if dropped := s.Sweep(); dropped != 1 {
		t.Fatalf("sweep dropped %d, want 1", dropped)
	}
	if s.Size() != 1 {
		t.Fatalf("size after sweep = %d, want 1", s.Size())
	}
}

func TestRefresher(t *testing.T) {
	s := NewStore(0)
	source := func(ctx context.Context) (map[string][]float64, error) {
		return map[string][]float64{
			"usage_rate": {0.2, 0.25, 0.3},
			"empty":      {},
		}, nil
	}
	persisted := 0
	persist := func(ctx context.Context, metrics map[string]any) error {
		persisted = len(metrics)
		return nil
	}

	r := NewRefresher(s, source, persist, time.Second)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, ok := s.Get("usage_rate"); !ok {
		t.Fatal("usage_rate baseline not computed")
	}
	if _, ok := s.Get("empty"); ok {
		t.Fatal("empty metric should be skipped")
	}
	if persisted != 1 {
		t.Fatalf("persisted %d metrics, want 1", persisted)
	}
}

func TestRefresherSourceError(t *testing.T) {
	s := NewStore(0)
	wantErr := errors.New("fetch failed")
	r := NewRefresher(s, func(ctx context.Context) (map[string][]float64, error) {
		return nil, wantErr
	}, nil, time.Second)

	if err := r.Refresh(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("refresh error = %v, want %v", err, wantErr)
	}
}
