package signforge

import (
	"sort"
	"time"
)

// DeviceRecord is an immutable snapshot of one enrolled device at fetch time.
// Field names mirror the persisted cache document and must stay stable; the
// same document is produced and consumed by other pipeline runtimes.
type DeviceRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Platform    string `json:"platform"`
	DeviceClass string `json:"device_class"`
	UDID        string `json:"udid"`
	Status      string `json:"status"`
}

// DeviceSnapshot is the persisted device baseline from the previous run.
// Checksum is always DeviceChecksum over Devices; a snapshot whose checksum
// disagrees with its own device list is corrupt and treated as a cache miss.
type DeviceSnapshot struct {
	Devices    []DeviceRecord `json:"devices"`
	Checksum   string         `json:"checksum"`
	CapturedAt time.Time      `json:"captured_at"`
}

// ReleaseRecord holds the latest known upstream artifact metadata for one task.
// PublishedAt is kept as the provider's raw timestamp string so equality
// matches whatever the upstream API returned, byte for byte.
type ReleaseRecord struct {
	TaskName    string `json:"task_name"`
	VersionTag  string `json:"version_tag"`
	PublishedAt string `json:"published_at"`
	DownloadURL string `json:"download_url"`
	AssetID     int64  `json:"asset_id,omitempty"`
}

// ReleaseSnapshot is the persisted per-task release baseline.
type ReleaseSnapshot struct {
	Releases    map[string]ReleaseRecord `json:"releases"`
	LastUpdated time.Time                `json:"last_updated"`
}

// SourceKind tells where a task's upstream package comes from.
type SourceKind string

const (
	// SourceDirectURL is a fixed package address with no version oracle.
	SourceDirectURL SourceKind = "direct_url"
	// SourceTrackedRepo resolves the package through release metadata,
	// enabling skip-if-unchanged behavior.
	SourceTrackedRepo SourceKind = "tracked_repo"
	// SourceInvalid marks a task declaring both or neither source variant.
	SourceInvalid SourceKind = "invalid"
)

// Task describes one independently signed-and-published application artifact.
// Exactly one of IPAURL / RepoURL must be set.
type Task struct {
	TaskName        string `toml:"task_name" json:"task_name"`
	AppName         string `toml:"app_name" json:"app_name"`
	BundleID        string `toml:"bundle_id" json:"bundle_id"`
	IPAURL          string `toml:"ipa_url" json:"ipa_url,omitempty"`
	RepoURL         string `toml:"repo_url" json:"repo_url,omitempty"`
	AssetGlob       string `toml:"asset_glob" json:"asset_glob,omitempty"`
	UsePrerelease   bool   `toml:"use_prerelease" json:"use_prerelease,omitempty"`
	AssetServerPath string `toml:"asset_server_path" json:"asset_server_path"`
}

// SourceKind classifies the task's source variant.
func (t Task) SourceKind() SourceKind {
	hasDirect := t.IPAURL != ""
	hasRepo := t.RepoURL != ""
	switch {
	case hasDirect && !hasRepo:
		return SourceDirectURL
	case hasRepo && !hasDirect:
		return SourceTrackedRepo
	default:
		return SourceInvalid
	}
}

// RebuildReason explains why a task was included in the rebuild plan.
type RebuildReason string

const (
	ReasonDeviceListChanged RebuildReason = "device-list-changed"
	ReasonVersionChanged    RebuildReason = "version-changed"
	ReasonNewTask           RebuildReason = "new-task"
	ReasonUntrackedSource   RebuildReason = "untracked-source"
	ReasonForcedOverride    RebuildReason = "forced-override"
)

// Decision is the planner verdict for a single task. Reason is empty when
// Rebuild is false.
type Decision struct {
	Rebuild bool
	Reason  RebuildReason
}

// RebuildPlan is the authoritative per-task rebuild decision for one run.
// RebuildAll additionally signals the provisioning stage to regenerate every
// profile instead of reusing cached ones.
type RebuildPlan struct {
	RebuildAll bool
	Decisions  map[string]Decision
}

// RebuildTasks returns the sorted names of tasks the plan includes.
func (p RebuildPlan) RebuildTasks() []string {
	names := make([]string, 0, len(p.Decisions))
	for name, decision := range p.Decisions {
		if decision.Rebuild {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
