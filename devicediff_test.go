package signforge

import (
	"testing"
	"time"
)

func snapshotOf(devices []DeviceRecord) *DeviceSnapshot {
	snap := NewDeviceSnapshot(devices, time.Now())
	return &snap
}

func TestCompareDevicesFirstRun(t *testing.T) {
	devices := sampleDevices()
	diff := CompareDevices(nil, devices)
	if !diff.Changed {
		t.Fatalf("first run must report changed")
	}
	if len(diff.Added) != len(devices) {
		t.Fatalf("expected all %d devices added, got %d", len(devices), len(diff.Added))
	}
	if len(diff.Removed) != 0 {
		t.Fatalf("expected no removed devices, got %d", len(diff.Removed))
	}
}

func TestCompareDevicesUnchanged(t *testing.T) {
	devices := sampleDevices()
	diff := CompareDevices(snapshotOf(devices), devices)
	if diff.Changed {
		t.Fatalf("identical device list reported as changed")
	}
	if len(diff.Added) != 0 || len(diff.Removed) != 0 {
		t.Fatalf("unchanged list produced diff: %+v", diff)
	}
}

func TestCompareDevicesUnchangedIgnoresOrder(t *testing.T) {
	devices := sampleDevices()
	shuffled := []DeviceRecord{devices[2], devices[0], devices[1]}
	if diff := CompareDevices(snapshotOf(devices), shuffled); diff.Changed {
		t.Fatalf("reordered device list reported as changed")
	}
}

func TestCompareDevicesAddedAndRemoved(t *testing.T) {
	prev := snapshotOf(sampleDevices())
	current := sampleDevices()[:2] // drop dev-3
	current = append(current, DeviceRecord{ID: "dev-9", Name: "iPhone 16", Platform: "ios", DeviceClass: "iphone", UDID: "00008110-Z", Status: "enabled"})

	diff := CompareDevices(prev, current)
	if !diff.Changed {
		t.Fatalf("modified device list not reported as changed")
	}
	if len(diff.Added) != 1 || diff.Added[0].ID != "dev-9" {
		t.Fatalf("unexpected added set: %+v", diff.Added)
	}
	if len(diff.Removed) != 1 || diff.Removed[0].ID != "dev-3" {
		t.Fatalf("unexpected removed set: %+v", diff.Removed)
	}
}

func TestCompareDevicesCorruptSnapshot(t *testing.T) {
	devices := sampleDevices()
	corrupt := &DeviceSnapshot{
		Devices:  devices,
		Checksum: "sha256:0000000000000000000000000000000000000000000000000000000000000000",
	}
	diff := CompareDevices(corrupt, devices)
	if !diff.Changed {
		t.Fatalf("corrupt snapshot must behave like a cache miss")
	}
	if len(diff.Added) != len(devices) {
		t.Fatalf("corrupt snapshot: expected all devices added, got %d", len(diff.Added))
	}
}
