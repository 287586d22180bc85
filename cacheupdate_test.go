package signforge

import (
	"testing"
	"time"
)

func TestNewDeviceSnapshotChecksumInvariant(t *testing.T) {
	now := time.Date(2026, 8, 31, 3, 0, 0, 0, time.UTC)
	snap := NewDeviceSnapshot(sampleDevices(), now)
	if snap.Checksum != DeviceChecksum(snap.Devices) {
		t.Fatalf("snapshot checksum inconsistent with its device list")
	}
	if !snap.CapturedAt.Equal(now) {
		t.Fatalf("unexpected captured_at: %v", snap.CapturedAt)
	}
	for i := 1; i < len(snap.Devices); i++ {
		if snap.Devices[i-1].ID > snap.Devices[i].ID {
			t.Fatalf("snapshot devices not sorted by id: %v", snap.Devices)
		}
	}
}

func TestMergeReleaseSnapshotOverwritesProcessedOnly(t *testing.T) {
	now := time.Now()
	prev := &ReleaseSnapshot{
		Releases: map[string]ReleaseRecord{
			"app-a": {TaskName: "app-a", VersionTag: "v1.0"},
			"app-b": {TaskName: "app-b", VersionTag: "v2.0"},
		},
	}
	observed := map[string]ReleaseRecord{
		"app-a": {TaskName: "app-a", VersionTag: "v1.1"},
		"app-b": {TaskName: "app-b", VersionTag: "v2.1"},
	}
	processed := map[string]struct{}{"app-a": {}}

	next := MergeReleaseSnapshot(prev, observed, processed, now)
	if next.Releases["app-a"].VersionTag != "v1.1" {
		t.Fatalf("processed task record not advanced: %+v", next.Releases["app-a"])
	}
	if next.Releases["app-b"].VersionTag != "v2.0" {
		t.Fatalf("failed task record must stay stale for retry: %+v", next.Releases["app-b"])
	}
	if !next.LastUpdated.Equal(now) {
		t.Fatalf("unexpected last_updated: %v", next.LastUpdated)
	}
}

func TestMergeReleaseSnapshotCarriesUnknownTasksForward(t *testing.T) {
	prev := &ReleaseSnapshot{
		Releases: map[string]ReleaseRecord{
			"retired-task": {TaskName: "retired-task", VersionTag: "v9.9"},
		},
	}
	next := MergeReleaseSnapshot(prev, nil, nil, time.Now())
	if _, ok := next.Releases["retired-task"]; !ok {
		t.Fatalf("prior record dropped instead of carried forward")
	}
}

func TestMergeReleaseSnapshotFromEmpty(t *testing.T) {
	observed := map[string]ReleaseRecord{"app-a": {TaskName: "app-a", VersionTag: "v1.0"}}
	next := MergeReleaseSnapshot(nil, observed, map[string]struct{}{"app-a": {}}, time.Now())
	if len(next.Releases) != 1 || next.Releases["app-a"].VersionTag != "v1.0" {
		t.Fatalf("unexpected merged snapshot: %+v", next.Releases)
	}
}
