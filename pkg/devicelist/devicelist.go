package devicelist

import (
	"context"
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	signforge "github.com/signforge/signforge"
)

// document is the device-list JSON produced by the enrollment export step.
// The list arrives already filtered to one platform and enabled status.
type document struct {
	Devices  []signforge.DeviceRecord `json:"devices"`
	Checksum string                   `json:"checksum"`
}

// Load reads the exported device-list document. Unlike cache snapshots, a
// missing or unreadable current device list is an error: without any device
// data the run cannot make a sound decision and must abort.
func Load(path string) ([]signforge.DeviceRecord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "devicelist: read %s failed", path)
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrapf(err, "devicelist: parse %s failed", path)
	}
	return doc.Devices, nil
}

// FileProvider adapts an exported device-list file to the engine's
// DeviceProvider contract.
type FileProvider struct {
	Path string
}

func (p *FileProvider) FetchDevices(ctx context.Context) ([]signforge.DeviceRecord, error) {
	if p == nil || p.Path == "" {
		return nil, errors.New("devicelist: provider path is empty")
	}
	return Load(p.Path)
}
