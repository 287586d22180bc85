package signforge

import (
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

type taskFile struct {
	Tasks []Task `toml:"tasks"`
}

// LoadTasks reads and validates the task configuration file. Any malformed
// task aborts the whole run before any fetch happens, silently skipping a
// misconfigured task would let it rot unpublished.
func LoadTasks(path string) ([]Task, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: read %s failed", path)
	}
	var file taskFile
	if err := toml.Unmarshal(raw, &file); err != nil {
		return nil, errors.Wrapf(err, "config: parse %s failed", path)
	}
	for i := range file.Tasks {
		file.Tasks[i] = trimTask(file.Tasks[i])
	}
	if err := ValidateTasks(file.Tasks); err != nil {
		return nil, err
	}
	return file.Tasks, nil
}

// ValidateTasks enforces the task invariants: non-empty unique names and
// exactly one source variant per task.
func ValidateTasks(tasks []Task) error {
	if len(tasks) == 0 {
		return errors.New("config: no tasks defined")
	}
	seen := make(map[string]struct{}, len(tasks))
	for _, task := range tasks {
		if task.TaskName == "" {
			return errors.New("config: task missing task_name")
		}
		if _, dup := seen[task.TaskName]; dup {
			return errors.Errorf("config: duplicate task_name %q", task.TaskName)
		}
		seen[task.TaskName] = struct{}{}
		switch task.SourceKind() {
		case SourceDirectURL, SourceTrackedRepo:
		default:
			return errors.Errorf("config: task %q must set exactly one of ipa_url or repo_url", task.TaskName)
		}
		if task.AssetServerPath == "" {
			return errors.Errorf("config: task %q missing asset_server_path", task.TaskName)
		}
	}
	return nil
}

func trimTask(task Task) Task {
	task.TaskName = strings.TrimSpace(task.TaskName)
	task.AppName = strings.TrimSpace(task.AppName)
	task.BundleID = strings.TrimSpace(task.BundleID)
	task.IPAURL = strings.TrimSpace(task.IPAURL)
	task.RepoURL = strings.TrimSpace(task.RepoURL)
	task.AssetGlob = strings.TrimSpace(task.AssetGlob)
	task.AssetServerPath = strings.TrimSpace(task.AssetServerPath)
	return task
}
