package signforge

import (
	"sort"

	"github.com/rs/zerolog/log"
)

// DeviceDiff is the comparator verdict for one run.
type DeviceDiff struct {
	Changed bool
	Added   []DeviceRecord
	Removed []DeviceRecord
}

// CompareDevices decides whether the enrolled-device population changed since
// the previous snapshot. A nil previous snapshot (first run or expired cache)
// always reports changed with every current device listed as added. A
// snapshot whose stored checksum disagrees with its own device list is
// corrupt and treated the same as a missing one.
//
// Pure decision function: persistence happens only through the cache updater.
func CompareDevices(prev *DeviceSnapshot, current []DeviceRecord) DeviceDiff {
	if prev != nil && prev.Checksum != DeviceChecksum(prev.Devices) {
		log.Warn().
			Str("stored", prev.Checksum).
			Msg("device snapshot checksum mismatch, treating cache as missing")
		prev = nil
	}
	if prev == nil {
		added := make([]DeviceRecord, len(current))
		copy(added, current)
		sortDevices(added)
		return DeviceDiff{Changed: true, Added: added}
	}

	currentChecksum := DeviceChecksum(current)
	if currentChecksum == prev.Checksum {
		return DeviceDiff{Changed: false}
	}

	prevByID := make(map[string]DeviceRecord, len(prev.Devices))
	for _, d := range prev.Devices {
		prevByID[d.ID] = d
	}
	currentByID := make(map[string]DeviceRecord, len(current))
	for _, d := range current {
		currentByID[d.ID] = d
	}

	diff := DeviceDiff{Changed: true}
	for id, d := range currentByID {
		if _, ok := prevByID[id]; !ok {
			diff.Added = append(diff.Added, d)
		}
	}
	for id, d := range prevByID {
		if _, ok := currentByID[id]; !ok {
			diff.Removed = append(diff.Removed, d)
		}
	}
	sortDevices(diff.Added)
	sortDevices(diff.Removed)
	return diff
}

func sortDevices(devices []DeviceRecord) {
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
}
