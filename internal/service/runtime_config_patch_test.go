package service

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nexus-vanguard/vanguard/internal/config"
	"github.com/nexus-vanguard/vanguard/internal/docstore"
)

type patchHarness struct {
	cp         *ControlPlane
	store      docstore.Store
	runtimeCfg *atomic.Pointer[config.RuntimeConfig]
}

func newPatchHarness(t *testing.T) patchHarness {
	t.Helper()

	store := docstore.NewMemory()
	runtimeCfg := &atomic.Pointer[config.RuntimeConfig]{}
	runtimeCfg.Store(config.NewDefaultRuntimeConfig())

	h := patchHarness{
		cp: &ControlPlane{
			Store:      store,
			RuntimeCfg: runtimeCfg,
		},
		store:      store,
		runtimeCfg: runtimeCfg,
	}
	t.Cleanup(func() { _ = store.Close() })
	return h
}

func cloneRuntimeConfig(cfg *config.RuntimeConfig) *config.RuntimeConfig {
	if cfg == nil {
		return nil
	}
	out := *cfg
	out.AllowedEditRoots = append([]string(nil), cfg.AllowedEditRoots...)
	out.LiveDataHosts = append([]string(nil), cfg.LiveDataHosts...)
	return &out
}

func TestPatchRuntimeConfig_HotUpdatePersists(t *testing.T) {
	h := newPatchHarness(t)
	ctx := context.Background()

	patch := map[string]any{
		"user_agent":          "vanguard-ops",
		"sampling_rate":       0.25,
		"pulse_poll_interval": "5s",
		"pulse_leader_count":  20,
	}
	body, err := json.Marshal(patch)
	if err != nil {
		t.Fatalf("marshal patch: %v", err)
	}

	updated, err := h.cp.PatchRuntimeConfig(ctx, body)
	if err != nil {
		t.Fatalf("PatchRuntimeConfig: %v", err)
	}

	if updated.UserAgent != "vanguard-ops" {
		t.Fatalf("user_agent=%q, want vanguard-ops", updated.UserAgent)
	}
	if updated.SamplingRate != 0.25 {
		t.Fatalf("sampling_rate=%v, want 0.25", updated.SamplingRate)
	}
	if time.Duration(updated.PulsePollInterval) != 5*time.Second {
		t.Fatalf("pulse_poll_interval=%v, want 5s", time.Duration(updated.PulsePollInterval))
	}
	if updated.PulseLeaderCount != 20 {
		t.Fatalf("pulse_leader_count=%d, want 20", updated.PulseLeaderCount)
	}

	live := h.runtimeCfg.Load()
	if live.UserAgent != "vanguard-ops" ||
		live.SamplingRate != 0.25 ||
		time.Duration(live.PulsePollInterval) != 5*time.Second ||
		live.PulseLeaderCount != 20 {
		t.Fatalf("runtime atomic pointer not updated: %+v", live)
	}

	payload, ver, err := h.store.GetSystemConfig(ctx)
	if err != nil {
		t.Fatalf("GetSystemConfig: %v", err)
	}
	if ver != 1 {
		t.Fatalf("persisted version=%d, want 1", ver)
	}
	var persisted config.RuntimeConfig
	if err := json.Unmarshal(payload, &persisted); err != nil {
		t.Fatalf("decode persisted config: %v", err)
	}
	if persisted.UserAgent != "vanguard-ops" ||
		persisted.SamplingRate != 0.25 ||
		time.Duration(persisted.PulsePollInterval) != 5*time.Second ||
		persisted.PulseLeaderCount != 20 {
		t.Fatalf("persisted config not updated: %+v", persisted)
	}
}

func TestPatchRuntimeConfig_VersionBootstrapsFromPersisted(t *testing.T) {
	h := newPatchHarness(t)
	ctx := context.Background()

	// Simulate a prior process having written version 7.
	seed, err := json.Marshal(config.NewDefaultRuntimeConfig())
	if err != nil {
		t.Fatalf("marshal seed: %v", err)
	}
	if err := h.store.SaveSystemConfig(ctx, seed, 7, time.Now().UnixNano()); err != nil {
		t.Fatalf("SaveSystemConfig seed: %v", err)
	}

	if doc := h.cp.GetRuntimeConfig(ctx); doc.Version != 7 {
		t.Fatalf("GetRuntimeConfig version=%d, want 7", doc.Version)
	}

	if _, err := h.cp.PatchRuntimeConfig(ctx, []byte(`{"pulse_leader_count":25}`)); err != nil {
		t.Fatalf("PatchRuntimeConfig: %v", err)
	}

	_, ver, err := h.store.GetSystemConfig(ctx)
	if err != nil {
		t.Fatalf("GetSystemConfig: %v", err)
	}
	if ver != 8 {
		t.Fatalf("version after patch=%d, want 8", ver)
	}
}

func TestPatchRuntimeConfig_InvalidPatchDoesNotPartiallyApply(t *testing.T) {
	h := newPatchHarness(t)
	ctx := context.Background()

	original := cloneRuntimeConfig(h.runtimeCfg.Load())

	// pulse_leader_count is valid on its own; the out-of-range sampling_rate
	// must reject the whole patch.
	_, err := h.cp.PatchRuntimeConfig(ctx, []byte(`{"pulse_leader_count":20,"sampling_rate":3}`))
	if err == nil {
		t.Fatal("expected validation error for sampling_rate=3")
	}

	after := cloneRuntimeConfig(h.runtimeCfg.Load())
	if !reflect.DeepEqual(after, original) {
		t.Fatalf("in-memory config changed on invalid patch\nbefore=%+v\nafter=%+v", original, after)
	}

	if _, ver, _ := h.store.GetSystemConfig(ctx); ver != 0 {
		t.Fatalf("version written on invalid patch: got %d, want 0", ver)
	}
}

type failingConfigStore struct {
	docstore.Store
	err error
}

func (f failingConfigStore) SaveSystemConfig(ctx context.Context, configJSON []byte, version int, updatedAtNs int64) error {
	return f.err
}

func TestPatchRuntimeConfig_PersistFailureDoesNotSwapAtomicPointer(t *testing.T) {
	h := newPatchHarness(t)
	ctx := context.Background()
	h.cp.Store = failingConfigStore{Store: h.store, err: errors.New("disk full")}

	before := cloneRuntimeConfig(h.runtimeCfg.Load())

	_, err := h.cp.PatchRuntimeConfig(ctx, []byte(`{"pulse_leader_count":20}`))
	if err == nil {
		t.Fatal("expected persistence error")
	}

	after := cloneRuntimeConfig(h.runtimeCfg.Load())
	if !reflect.DeepEqual(after, before) {
		t.Fatalf("atomic pointer swapped despite persist failure\nbefore=%+v\nafter=%+v", before, after)
	}
}

func TestPatchRuntimeConfig_ConcurrentPatchesNoLostUpdate(t *testing.T) {
	h := newPatchHarness(t)
	ctx := context.Background()

	patches := [][]byte{
		[]byte(`{"pulse_leader_count":20}`),
		[]byte(`{"sampling_rate":0.5}`),
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(patches))
	start := make(chan struct{})

	for _, patch := range patches {
		wg.Add(1)
		go func(p []byte) {
			defer wg.Done()
			<-start
			_, err := h.cp.PatchRuntimeConfig(ctx, p)
			errCh <- err
		}(patch)
	}

	close(start)
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("concurrent PatchRuntimeConfig error: %v", err)
		}
	}

	final := h.runtimeCfg.Load()
	if final.PulseLeaderCount != 20 {
		t.Fatalf("pulse_leader_count lost after concurrent patch: %d", final.PulseLeaderCount)
	}
	if final.SamplingRate != 0.5 {
		t.Fatalf("sampling_rate lost after concurrent patch: %v", final.SamplingRate)
	}
	if _, ver, _ := h.store.GetSystemConfig(ctx); ver != 2 {
		t.Fatalf("persisted version=%d, want 2", ver)
	}
}

func TestPatchRuntimeConfig_DoesNotMutateOldSliceSnapshot(t *testing.T) {
	h := newPatchHarness(t)
	ctx := context.Background()

	before := h.runtimeCfg.Load()
	beforeHosts := append([]string(nil), before.LiveDataHosts...)

	_, err := h.cp.PatchRuntimeConfig(ctx, []byte(`{"live_data_hosts":["cdn.nba.com","core-api.nba.com"]}`))
	if err != nil {
		t.Fatalf("PatchRuntimeConfig: %v", err)
	}

	after := h.runtimeCfg.Load()
	if after == before {
		t.Fatal("expected atomic pointer to publish a new RuntimeConfig object")
	}

	if !reflect.DeepEqual(before.LiveDataHosts, beforeHosts) {
		t.Fatalf("old snapshot live_data_hosts mutated\nbefore=%v\nnow=%v", beforeHosts, before.LiveDataHosts)
	}
	if reflect.DeepEqual(after.LiveDataHosts, beforeHosts) {
		t.Fatalf("new snapshot live_data_hosts did not apply patch: %v", after.LiveDataHosts)
	}
}

func TestPatchRuntimeConfig_Rejections(t *testing.T) {
	h := newPatchHarness(t)
	ctx := context.Background()
	original := cloneRuntimeConfig(h.runtimeCfg.Load())

	cases := []struct {
		name  string
		patch string
	}{
		{"empty patch", `{}`},
		{"not an object", `[1,2,3]`},
		{"unknown field", `{"not_a_field":1}`},
		{"null value", `{"sampling_rate":null}`},
		{"sampling rate above one", `{"sampling_rate":1.5}`},
		{"blank user agent", `{"user_agent":"  "}`},
		{"escalate crosses deescalate", `{"escalate_below_score":60}`},
		{"sub-second bucket window", `{"rate_limit_default":{"limit":60,"window":"500ms"}}`},
		{"zero listener buffer", `{"sse_listener_buffer":0}`},
		{"edit root escape", `{"allowed_edit_roots":["../etc"]}`},
		{"host with path", `{"live_data_hosts":["cdn.nba.com/static"]}`},
		{"wrong type", `{"pulse_leader_count":"twenty"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := h.cp.PatchRuntimeConfig(ctx, []byte(tc.patch)); err == nil {
				t.Fatalf("patch %s accepted, want rejection", tc.patch)
			}
		})
	}

	after := cloneRuntimeConfig(h.runtimeCfg.Load())
	if !reflect.DeepEqual(after, original) {
		t.Fatalf("config changed by rejected patches\nbefore=%+v\nafter=%+v", original, after)
	}
	if _, ver, _ := h.store.GetSystemConfig(ctx); ver != 0 {
		t.Fatalf("version written by rejected patches: %d", ver)
	}
}
