package signforge

// ReleaseCheck is the tracker verdict for one tracked task.
type ReleaseCheck struct {
	Changed bool
	Reason  RebuildReason
}

// CheckRelease compares the cached release record against the freshly
// resolved one for a tracked task.
//
// A missing previous record means the task has never been built from this
// cache (new task). A same tag with a different publish timestamp counts as
// changed: artifacts under a tag are not assumed immutable, republishing the
// same version still invalidates the signed package.
func CheckRelease(prev *ReleaseRecord, current ReleaseRecord) ReleaseCheck {
	if prev == nil || prev.VersionTag == "" {
		return ReleaseCheck{Changed: true, Reason: ReasonNewTask}
	}
	if prev.VersionTag != current.VersionTag {
		return ReleaseCheck{Changed: true, Reason: ReasonVersionChanged}
	}
	if prev.PublishedAt != current.PublishedAt {
		return ReleaseCheck{Changed: true, Reason: ReasonVersionChanged}
	}
	return ReleaseCheck{Changed: false}
}
