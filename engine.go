package signforge

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/signforge/signforge/internal/cachestore"
)

// Snapshot keys in the cache store. The resulting file names match the
// documents the CI workflow shares across run invocations.
const (
	DeviceSnapshotKey  = "device-list"
	ReleaseSnapshotKey = "release-versions"
)

// DeviceProvider supplies the current enrolled-device list, already filtered
// to a single platform and enabled status.
type DeviceProvider interface {
	FetchDevices(ctx context.Context) ([]DeviceRecord, error)
}

// ReleaseProvider resolves the latest published artifact metadata for a
// tracked task, honoring its stable-vs-prerelease preference.
type ReleaseProvider interface {
	LatestRelease(ctx context.Context, task Task) (ReleaseRecord, error)
}

// Signer produces a signed package for a task. Failures are opaque to the
// engine and only isolate that task from the current run.
type Signer interface {
	Sign(ctx context.Context, task Task, downloadURL string) (artifactPath string, err error)
}

// Publisher uploads a signed artifact to the task's destination path.
type Publisher interface {
	Publish(ctx context.Context, task Task, artifactPath string) error
}

// RunRecorder receives the finished plan for audit purposes. Recording
// failures never affect the run.
type RunRecorder interface {
	RecordRun(ctx context.Context, runID string, plan RebuildPlan, startedAt time.Time) error
}

// Config wires the engine to its collaborators.
type Config struct {
	Tasks     []Task
	Devices   DeviceProvider
	Releases  ReleaseProvider
	Signer    Signer
	Publisher Publisher
	Cache     *cachestore.Store
	Recorder  RunRecorder
}

// Engine runs the change-detection decision phase and drives task execution.
type Engine struct {
	cfg   Config
	clock func() time.Time
}

// NewEngine validates the configuration and builds an engine. Malformed task
// configuration is fatal here, before any fetch occurs.
func NewEngine(cfg Config) (*Engine, error) {
	if err := ValidateTasks(cfg.Tasks); err != nil {
		return nil, err
	}
	if cfg.Devices == nil {
		return nil, errors.New("engine: device provider is nil")
	}
	if cfg.Cache == nil {
		return nil, errors.New("engine: cache store is nil")
	}
	if cfg.Releases == nil && hasTrackedTask(cfg.Tasks) {
		return nil, errors.New("engine: release provider is nil but tracked tasks exist")
	}
	return &Engine{cfg: cfg, clock: time.Now}, nil
}

func hasTrackedTask(tasks []Task) bool {
	for _, task := range tasks {
		if task.SourceKind() == SourceTrackedRepo {
			return true
		}
	}
	return false
}

// Evaluation carries everything the decision phase observed, so the
// execution and commit phases need no further fetches.
type Evaluation struct {
	Plan         RebuildPlan
	DeviceDiff   DeviceDiff
	Devices      []DeviceRecord
	Observed     map[string]ReleaseRecord
	PrevReleases *ReleaseSnapshot
	StartedAt    time.Time
}

// RunID derives a stable identifier for this run from its start time.
func (ev *Evaluation) RunID() string {
	return ev.StartedAt.UTC().Format("20060102T150405Z")
}

// Evaluate executes the decision phase: load snapshots, fetch current state,
// compare, and plan. It has no side effects; a run interrupted after Evaluate
// can be restarted from scratch.
//
// Cache absence and corruption degrade to "first run". A missing device list
// is fatal; a single task's failed release lookup downgrades to a rebuild
// verdict for that task.
func (e *Engine) Evaluate(ctx context.Context, force bool) (*Evaluation, error) {
	startedAt := e.clock()

	var prevDevices *DeviceSnapshot
	var devSnap DeviceSnapshot
	if e.cfg.Cache.Load(DeviceSnapshotKey, &devSnap) {
		prevDevices = &devSnap
	} else {
		log.Info().Msg("no cached device snapshot, treating as first run")
	}

	var prevReleases *ReleaseSnapshot
	var relSnap ReleaseSnapshot
	if e.cfg.Cache.Load(ReleaseSnapshotKey, &relSnap) {
		prevReleases = &relSnap
	}

	devices, err := e.cfg.Devices.FetchDevices(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "engine: fetch device list failed")
	}

	diff := CompareDevices(prevDevices, devices)
	if diff.Changed {
		log.Info().
			Int("added", len(diff.Added)).
			Int("removed", len(diff.Removed)).
			Msg("device list changed")
		for _, d := range diff.Added {
			log.Info().Str("name", d.Name).Str("class", d.DeviceClass).Msg("device added")
		}
		for _, d := range diff.Removed {
			log.Info().Str("name", d.Name).Str("class", d.DeviceClass).Msg("device removed")
		}
	} else {
		log.Info().Msg("device list unchanged")
	}

	checks := make(map[string]ReleaseCheck, len(e.cfg.Tasks))
	observed := make(map[string]ReleaseRecord, len(e.cfg.Tasks))
	for _, task := range e.cfg.Tasks {
		if task.SourceKind() != SourceTrackedRepo {
			continue
		}
		current, err := e.cfg.Releases.LatestRelease(ctx, task)
		if err != nil {
			// No checks entry: the planner treats the task as changed.
			log.Warn().Err(err).Str("task", task.TaskName).Msg("release lookup failed, task will rebuild")
			continue
		}
		observed[task.TaskName] = current
		var prev *ReleaseRecord
		if prevReleases != nil {
			if record, ok := prevReleases.Releases[task.TaskName]; ok {
				prev = &record
			}
		}
		check := CheckRelease(prev, current)
		checks[task.TaskName] = check
		if check.Changed {
			log.Info().
				Str("task", task.TaskName).
				Str("version", current.VersionTag).
				Str("reason", string(check.Reason)).
				Msg("release changed")
		} else {
			log.Info().Str("task", task.TaskName).Str("version", current.VersionTag).Msg("release up to date")
		}
	}

	plan := PlanRebuild(e.cfg.Tasks, diff.Changed, checks, force)
	log.Info().
		Bool("rebuild_all", plan.RebuildAll).
		Strs("rebuild_tasks", plan.RebuildTasks()).
		Msg("rebuild plan ready")

	return &Evaluation{
		Plan:         plan,
		DeviceDiff:   diff,
		Devices:      devices,
		Observed:     observed,
		PrevReleases: prevReleases,
		StartedAt:    startedAt,
	}, nil
}

// RunOnce executes one full run: decision phase, per-task signing and
// publishing, then the unconditional snapshot commit. Per-task failures are
// isolated; only decision-phase errors abort the run.
func (e *Engine) RunOnce(ctx context.Context, force bool) (*Evaluation, error) {
	eval, err := e.Evaluate(ctx, force)
	if err != nil {
		return nil, err
	}
	if len(eval.Plan.RebuildTasks()) > 0 {
		if e.cfg.Signer == nil {
			return nil, errors.New("engine: signer is nil")
		}
		if e.cfg.Publisher == nil {
			return nil, errors.New("engine: publisher is nil")
		}
	}

	succeeded := make(map[string]struct{})
	for _, task := range e.cfg.Tasks {
		decision := eval.Plan.Decisions[task.TaskName]
		if !decision.Rebuild {
			log.Debug().Str("task", task.TaskName).Msg("task unchanged, skipping")
			continue
		}
		if err := e.processTask(ctx, task, eval); err != nil {
			log.Error().Err(err).Str("task", task.TaskName).Msg("task processing failed, will retry next run")
			continue
		}
		succeeded[task.TaskName] = struct{}{}
		log.Info().Str("task", task.TaskName).Str("reason", string(decision.Reason)).Msg("task signed and published")
	}

	e.commit(eval, succeeded)

	if e.cfg.Recorder != nil {
		if err := e.cfg.Recorder.RecordRun(ctx, eval.RunID(), eval.Plan, eval.StartedAt); err != nil {
			log.Warn().Err(err).Msg("run ledger write failed")
		}
	}
	return eval, nil
}

func (e *Engine) processTask(ctx context.Context, task Task, eval *Evaluation) error {
	downloadURL := task.IPAURL
	if task.SourceKind() == SourceTrackedRepo {
		downloadURL = eval.Observed[task.TaskName].DownloadURL
	}
	artifact, err := e.cfg.Signer.Sign(ctx, task, downloadURL)
	if err != nil {
		return errors.Wrap(err, "sign failed")
	}
	if err := e.cfg.Publisher.Publish(ctx, task, artifact); err != nil {
		return errors.Wrap(err, "publish failed")
	}
	return nil
}

// commit persists the snapshots observed this run. Release records advance
// only for tasks that signed and published successfully, so failed tasks are
// retried on the next run. Save failures degrade the next run to a cache
// miss, which is a full rebuild, never data loss or an incorrect skip.
func (e *Engine) commit(eval *Evaluation, succeeded map[string]struct{}) {
	now := e.clock()
	if err := e.cfg.Cache.Save(DeviceSnapshotKey, NewDeviceSnapshot(eval.Devices, now)); err != nil {
		log.Warn().Err(err).Msg("save device snapshot failed")
	}
	next := MergeReleaseSnapshot(eval.PrevReleases, eval.Observed, succeeded, now)
	if err := e.cfg.Cache.Save(ReleaseSnapshotKey, next); err != nil {
		log.Warn().Err(err).Msg("save release snapshot failed")
	}
}
