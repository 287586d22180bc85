package signforge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/signforge/signforge/internal/cachestore"
)

type stubDevices struct {
	devices []DeviceRecord
	err     error
}

func (s *stubDevices) FetchDevices(ctx context.Context) ([]DeviceRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]DeviceRecord, len(s.devices))
	copy(out, s.devices)
	return out, nil
}

type stubReleases struct {
	records map[string]ReleaseRecord
	errs    map[string]error
}

func (s *stubReleases) LatestRelease(ctx context.Context, task Task) (ReleaseRecord, error) {
	if err := s.errs[task.TaskName]; err != nil {
		return ReleaseRecord{}, err
	}
	record, ok := s.records[task.TaskName]
	if !ok {
		return ReleaseRecord{}, errors.Errorf("no release for %s", task.TaskName)
	}
	return record, nil
}

type stubSigner struct {
	failFor map[string]bool
	signed  []string
}

func (s *stubSigner) Sign(ctx context.Context, task Task, downloadURL string) (string, error) {
	if s.failFor[task.TaskName] {
		return "", errors.New("sign exploded")
	}
	s.signed = append(s.signed, task.TaskName)
	return "/tmp/" + task.TaskName + "-signed.ipa", nil
}

type stubPublisher struct {
	failFor   map[string]bool
	published []string
}

func (s *stubPublisher) Publish(ctx context.Context, task Task, artifactPath string) error {
	if s.failFor[task.TaskName] {
		return errors.New("publish exploded")
	}
	s.published = append(s.published, task.TaskName)
	return nil
}

type stubRecorder struct {
	runs     int
	lastPlan RebuildPlan
}

func (s *stubRecorder) RecordRun(ctx context.Context, runID string, plan RebuildPlan, startedAt time.Time) error {
	s.runs++
	s.lastPlan = plan
	return nil
}

func testEngine(t *testing.T, cacheDir string, cfg Config) *Engine {
	t.Helper()
	store, err := cachestore.New(cacheDir)
	if err != nil {
		t.Fatalf("cachestore.New: %v", err)
	}
	cfg.Cache = store
	if cfg.Tasks == nil {
		cfg.Tasks = plannerTasks()
	}
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func trackedReleases() map[string]ReleaseRecord {
	return map[string]ReleaseRecord{
		"tracked-a": {TaskName: "tracked-a", VersionTag: "v1.0", PublishedAt: "2026-08-01T00:00:00Z", DownloadURL: "https://cdn/a.ipa"},
		"tracked-b": {TaskName: "tracked-b", VersionTag: "v2.0", PublishedAt: "2026-08-02T00:00:00Z", DownloadURL: "https://cdn/b.ipa"},
	}
}

func TestEngineFirstRunRebuildsEverything(t *testing.T) {
	ctx := context.Background()
	cacheDir := t.TempDir()
	signer := &stubSigner{}
	publisher := &stubPublisher{}
	recorder := &stubRecorder{}
	engine := testEngine(t, cacheDir, Config{
		Devices:   &stubDevices{devices: sampleDevices()},
		Releases:  &stubReleases{records: trackedReleases()},
		Signer:    signer,
		Publisher: publisher,
		Recorder:  recorder,
	})

	eval, err := engine.RunOnce(ctx, false)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !eval.Plan.RebuildAll {
		t.Fatalf("first run must set rebuild_all")
	}
	if len(publisher.published) != 3 {
		t.Fatalf("expected 3 published tasks, got %v", publisher.published)
	}
	if recorder.runs != 1 {
		t.Fatalf("recorder not invoked")
	}
	for _, key := range []string{DeviceSnapshotKey, ReleaseSnapshotKey} {
		if _, err := os.Stat(filepath.Join(cacheDir, key+".json")); err != nil {
			t.Fatalf("snapshot %s not committed: %v", key, err)
		}
	}
}

func TestEngineQuietSecondRun(t *testing.T) {
	ctx := context.Background()
	cacheDir := t.TempDir()
	baseCfg := Config{
		Devices:   &stubDevices{devices: sampleDevices()},
		Releases:  &stubReleases{records: trackedReleases()},
		Signer:    &stubSigner{},
		Publisher: &stubPublisher{},
	}
	if _, err := testEngine(t, cacheDir, baseCfg).RunOnce(ctx, false); err != nil {
		t.Fatalf("first RunOnce: %v", err)
	}

	// Same devices, same releases: only the direct-url task should rebuild.
	eval, err := testEngine(t, cacheDir, baseCfg).Evaluate(ctx, false)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if eval.Plan.RebuildAll {
		t.Fatalf("quiet run must not set rebuild_all")
	}
	got := eval.Plan.RebuildTasks()
	if len(got) != 1 || got[0] != "direct-c" {
		t.Fatalf("expected only direct-c to rebuild, got %v", got)
	}
}

func TestEngineDeviceAddedRebuildsAll(t *testing.T) {
	ctx := context.Background()
	cacheDir := t.TempDir()
	baseCfg := Config{
		Devices:   &stubDevices{devices: sampleDevices()},
		Releases:  &stubReleases{records: trackedReleases()},
		Signer:    &stubSigner{},
		Publisher: &stubPublisher{},
	}
	if _, err := testEngine(t, cacheDir, baseCfg).RunOnce(ctx, false); err != nil {
		t.Fatalf("first RunOnce: %v", err)
	}

	grown := append(sampleDevices(), DeviceRecord{ID: "dev-9", Name: "iPhone 16", Platform: "ios", DeviceClass: "iphone", UDID: "00008110-Z", Status: "enabled"})
	baseCfg.Devices = &stubDevices{devices: grown}
	eval, err := testEngine(t, cacheDir, baseCfg).Evaluate(ctx, false)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !eval.Plan.RebuildAll {
		t.Fatalf("device addition must set rebuild_all")
	}
	if len(eval.DeviceDiff.Added) != 1 || eval.DeviceDiff.Added[0].ID != "dev-9" {
		t.Fatalf("unexpected added diff: %+v", eval.DeviceDiff.Added)
	}
	if len(eval.DeviceDiff.Removed) != 0 {
		t.Fatalf("unexpected removed diff: %+v", eval.DeviceDiff.Removed)
	}
	if got := eval.Plan.RebuildTasks(); len(got) != 3 {
		t.Fatalf("device change must rebuild all tasks, got %v", got)
	}
}

func TestEngineUnparsableCacheBehavesLikeFirstRun(t *testing.T) {
	ctx := context.Background()
	cacheDir := t.TempDir()
	for _, key := range []string{DeviceSnapshotKey, ReleaseSnapshotKey} {
		if err := os.WriteFile(filepath.Join(cacheDir, key+".json"), []byte("{not json"), 0o644); err != nil {
			t.Fatalf("write garbage cache: %v", err)
		}
	}
	engine := testEngine(t, cacheDir, Config{
		Devices:  &stubDevices{devices: sampleDevices()},
		Releases: &stubReleases{records: trackedReleases()},
	})
	eval, err := engine.Evaluate(ctx, false)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !eval.Plan.RebuildAll {
		t.Fatalf("corrupt cache must degrade to first run")
	}
	if got := eval.Plan.RebuildTasks(); len(got) != 3 {
		t.Fatalf("corrupt cache must rebuild all tasks, got %v", got)
	}
}

func TestEngineFailedTaskKeepsStaleRecord(t *testing.T) {
	ctx := context.Background()
	cacheDir := t.TempDir()
	publisher := &stubPublisher{failFor: map[string]bool{"tracked-a": true}}
	engine := testEngine(t, cacheDir, Config{
		Devices:   &stubDevices{devices: sampleDevices()},
		Releases:  &stubReleases{records: trackedReleases()},
		Signer:    &stubSigner{},
		Publisher: publisher,
	})
	if _, err := engine.RunOnce(ctx, false); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	var snap ReleaseSnapshot
	store, err := cachestore.New(cacheDir)
	if err != nil {
		t.Fatalf("cachestore.New: %v", err)
	}
	if !store.Load(ReleaseSnapshotKey, &snap) {
		t.Fatalf("release snapshot not committed")
	}
	if _, ok := snap.Releases["tracked-a"]; ok {
		t.Fatalf("failed task's release record must not advance")
	}
	if snap.Releases["tracked-b"].VersionTag != "v2.0" {
		t.Fatalf("successful task's record missing: %+v", snap.Releases)
	}

	// Next run must include the failed task again.
	eval, err := testEngine(t, cacheDir, Config{
		Devices:   &stubDevices{devices: sampleDevices()},
		Releases:  &stubReleases{records: trackedReleases()},
		Signer:    &stubSigner{},
		Publisher: &stubPublisher{},
	}).Evaluate(ctx, false)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if decision := eval.Plan.Decisions["tracked-a"]; !decision.Rebuild {
		t.Fatalf("failed task must be retried, got %+v", decision)
	}
	if decision := eval.Plan.Decisions["tracked-b"]; decision.Rebuild {
		t.Fatalf("successful task must be skipped, got %+v", decision)
	}
}

func TestEngineReleaseLookupFailureRebuildsTask(t *testing.T) {
	ctx := context.Background()
	releases := &stubReleases{
		records: trackedReleases(),
		errs:    map[string]error{"tracked-b": errors.New("api down")},
	}
	engine := testEngine(t, t.TempDir(), Config{
		Devices:  &stubDevices{devices: sampleDevices()},
		Releases: releases,
	})
	eval, err := engine.Evaluate(ctx, false)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if decision := eval.Plan.Decisions["tracked-b"]; !decision.Rebuild {
		t.Fatalf("missing release data must rebuild the task, got %+v", decision)
	}
	if _, ok := eval.Observed["tracked-b"]; ok {
		t.Fatalf("failed lookup must not produce an observed record")
	}
}

func TestEngineDeviceFetchFailureIsFatal(t *testing.T) {
	engine := testEngine(t, t.TempDir(), Config{
		Devices:  &stubDevices{err: errors.New("directory down")},
		Releases: &stubReleases{records: trackedReleases()},
	})
	if _, err := engine.Evaluate(context.Background(), false); err == nil {
		t.Fatalf("missing device data must abort the run")
	}
}

func TestEngineForceOverride(t *testing.T) {
	ctx := context.Background()
	cacheDir := t.TempDir()
	baseCfg := Config{
		Devices:   &stubDevices{devices: sampleDevices()},
		Releases:  &stubReleases{records: trackedReleases()},
		Signer:    &stubSigner{},
		Publisher: &stubPublisher{},
	}
	if _, err := testEngine(t, cacheDir, baseCfg).RunOnce(ctx, false); err != nil {
		t.Fatalf("first RunOnce: %v", err)
	}

	eval, err := testEngine(t, cacheDir, baseCfg).Evaluate(ctx, true)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !eval.Plan.RebuildAll {
		t.Fatalf("forced run must set rebuild_all")
	}
	for name, decision := range eval.Plan.Decisions {
		if !decision.Rebuild || decision.Reason != ReasonForcedOverride {
			t.Fatalf("task %s: expected forced-override, got %+v", name, decision)
		}
	}
}

func TestNewEngineRejectsInvalidConfig(t *testing.T) {
	store, err := cachestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("cachestore.New: %v", err)
	}
	bad := []Task{{TaskName: "bad", AppName: "Bad", BundleID: "com.example.bad", AssetServerPath: "/srv/"}}
	if _, err := NewEngine(Config{Tasks: bad, Devices: &stubDevices{}, Cache: store}); err == nil {
		t.Fatalf("malformed task config must be fatal before any fetch")
	}
	if _, err := NewEngine(Config{Tasks: plannerTasks(), Cache: store}); err == nil {
		t.Fatalf("nil device provider must be rejected")
	}
	if _, err := NewEngine(Config{Tasks: plannerTasks(), Devices: &stubDevices{}, Cache: store}); err == nil {
		t.Fatalf("tracked tasks without a release provider must be rejected")
	}
}
