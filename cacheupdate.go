package signforge

import "time"

// NewDeviceSnapshot captures the observed device list as the next baseline.
// Devices are stored sorted by id so the document diffs cleanly across runs.
func NewDeviceSnapshot(devices []DeviceRecord, now time.Time) DeviceSnapshot {
	sorted := make([]DeviceRecord, len(devices))
	copy(sorted, devices)
	sortDevices(sorted)
	return DeviceSnapshot{
		Devices:    sorted,
		Checksum:   DeviceChecksum(sorted),
		CapturedAt: now,
	}
}

// MergeReleaseSnapshot folds the releases observed this run into the previous
// snapshot. Only tasks named in processed get their record overwritten, all
// other prior records are carried forward unchanged, so a task whose
// signing failed keeps its stale record and is retried next run.
func MergeReleaseSnapshot(prev *ReleaseSnapshot, observed map[string]ReleaseRecord, processed map[string]struct{}, now time.Time) ReleaseSnapshot {
	next := ReleaseSnapshot{
		Releases:    make(map[string]ReleaseRecord),
		LastUpdated: now,
	}
	if prev != nil {
		for name, record := range prev.Releases {
			next.Releases[name] = record
		}
	}
	for name := range processed {
		if record, ok := observed[name]; ok {
			next.Releases[name] = record
		}
	}
	return next
}
