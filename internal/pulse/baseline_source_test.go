package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nexus-vanguard/vanguard/internal/baseline"
	"github.com/nexus-vanguard/vanguard/internal/docstore"
	"github.com/nexus-vanguard/vanguard/internal/sports"
)

func archiveDate(daysAgo int) string {
	return time.Now().UTC().AddDate(0, 0, -daysAgo).Format("2006-01-02")
}

func archiveBox(t *testing.T, store *docstore.Memory, date string, box sports.Boxscore) {
	t.Helper()
	payload, err := json.Marshal(box)
	if err != nil {
		t.Fatalf("marshal boxscore: %v", err)
	}
	if err := store.PutGameLog(context.Background(), date, box.GameID, payload, time.Now().UnixNano()); err != nil {
		t.Fatalf("archive %s: %v", box.GameID, err)
	}
}

// --- season sample source ---

func TestSeasonSampleSource_CollectsPlayerSamples(t *testing.T) {
	store := docstore.NewMemory()
	box := testBoxscore("g1", 101, 99, 4)
	// A garbage-time line that must stay below the minutes cutoff.
	box.HomeTeam.Players = append(box.HomeTeam.Players, sports.PlayerLine{
		PersonID: 2000,
		Name:     "Bench",
		Status:   "ACTIVE",
		Statistics: sports.PlayerStats{
			Minutes:             "PT03M0.00S",
			Points:              2,
			FieldGoalsAttempted: 2,
		},
	})
	archiveBox(t, store, archiveDate(0), box)

	samples, err := SeasonSampleSource(store, 3)(context.Background())
	if err != nil {
		t.Fatalf("source: %v", err)
	}

	// Green (1001) plays home only; PersonID 1000 appears on both rosters.
	if got := len(samples[usageBaselineKey("1001")]); got != 1 {
		t.Errorf("usage samples for 1001: got %d, want 1", got)
	}
	if got := len(samples[usageBaselineKey("1000")]); got != 2 {
		t.Errorf("usage samples for 1000: got %d, want 2", got)
	}
	for _, v := range samples[usageBaselineKey("1001")] {
		if v <= 0 || v > 100 {
			t.Errorf("usage sample out of range: %v", v)
		}
	}
	// Green: 14 points on 10 FGA and 2 FTA.
	wantTS := 14.0 / (2 * (10 + 0.44*2))
	ts := samples[tsBaselineKey("1001")]
	if len(ts) != 1 || !almostEqual(ts[0], wantTS) {
		t.Errorf("ts samples for 1001: got %v, want [%v]", ts, wantTS)
	}
	if _, ok := samples[usageBaselineKey("9999")]; ok {
		t.Error("inactive line sampled")
	}
	if _, ok := samples[usageBaselineKey("2000")]; ok {
		t.Error("thin-minutes line sampled")
	}
}

func TestSeasonSampleSource_LookbackAndBadPayloads(t *testing.T) {
	store := docstore.NewMemory()
	archiveBox(t, store, archiveDate(0), testBoxscore("g1", 101, 99, 4))
	// Outside the 3-day window; would double every count if included.
	archiveBox(t, store, archiveDate(10), testBoxscore("g2", 90, 80, 4))
	if err := store.PutGameLog(context.Background(), archiveDate(0), "corrupt", []byte("{"), time.Now().UnixNano()); err != nil {
		t.Fatalf("archive corrupt: %v", err)
	}

	samples, err := SeasonSampleSource(store, 3)(context.Background())
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	if got := len(samples[usageBaselineKey("1001")]); got != 1 {
		t.Errorf("usage samples for 1001: got %d, want 1", got)
	}
}

type erroringLiveRepo struct {
	docstore.LiveRepo
}

func (erroringLiveRepo) ListGameLogs(context.Context, string) (map[string][]byte, error) {
	return nil, errors.New("archive down")
}

func TestSeasonSampleSource_AllDaysFailing(t *testing.T) {
	_, err := SeasonSampleSource(erroringLiveRepo{}, 2)(context.Background())
	if err == nil {
		t.Fatal("expected error when every day fails to list")
	}
}

func TestSeasonSampleSource_FeedsRefresher(t *testing.T) {
	store := docstore.NewMemory()
	archiveBox(t, store, archiveDate(0), testBoxscore("g1", 101, 99, 4))

	marks := baseline.NewStore(time.Hour)
	var persisted map[string]any
	ref := baseline.NewRefresher(marks, SeasonSampleSource(store, 3),
		func(_ context.Context, computed map[string]any) error {
			persisted = computed
			return nil
		}, 0)
	if err := ref.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	m, ok := marks.Get(usageBaselineKey("1001"))
	if !ok {
		t.Fatal("usage baseline for 1001 missing after refresh")
	}
	if m.SampleCount != 1 {
		t.Errorf("SampleCount: got %d, want 1", m.SampleCount)
	}
	if _, ok := persisted[tsBaselineKey("1001")]; !ok {
		t.Error("ts baseline for 1001 not persisted")
	}
}
