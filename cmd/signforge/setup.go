package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	signforge "github.com/signforge/signforge"
	"github.com/signforge/signforge/internal/cachestore"
	"github.com/signforge/signforge/internal/config"
	"github.com/signforge/signforge/pkg/devicelist"
	"github.com/signforge/signforge/pkg/ghrelease"
)

type pipelineOptions struct {
	configPath string
	devicePath string
	cacheDir   string
	force      bool
}

func (o *pipelineOptions) resolve() {
	if o.configPath == "" {
		o.configPath = config.String("CONFIG_TOML", "configs/tasks.toml")
	}
	if o.devicePath == "" {
		o.devicePath = config.String("DEVICE_LIST_JSON", "work/device-list.json")
	}
	if o.cacheDir == "" {
		o.cacheDir = config.String("SIGNFORGE_CACHE_DIR", "work/cache")
	}
	if !o.force {
		o.force = config.Bool("FORCE_REBUILD", false)
	}
}

// buildEngineConfig wires the decision-phase collaborators. Signer, publisher
// and recorder are attached by the run command only.
func buildEngineConfig(opts *pipelineOptions) (signforge.Config, error) {
	opts.resolve()

	tasks, err := signforge.LoadTasks(opts.configPath)
	if err != nil {
		return signforge.Config{}, err
	}
	store, err := cachestore.New(opts.cacheDir)
	if err != nil {
		return signforge.Config{}, err
	}

	cfg := signforge.Config{
		Tasks:   tasks,
		Devices: &devicelist.FileProvider{Path: opts.devicePath},
		Cache:   store,
	}

	hasTracked := false
	for _, task := range tasks {
		if task.SourceKind() == signforge.SourceTrackedRepo {
			hasTracked = true
			break
		}
	}
	if hasTracked {
		token := config.String("GITHUB_TOKEN", "")
		if token == "" {
			log.Warn().Msg("GITHUB_TOKEN is not set, using unauthenticated GitHub API with a much lower rate limit")
		}
		cfg.Releases = ghrelease.NewClient(token)
	}
	return cfg, nil
}

// writeCIOutputs appends the plan to $GITHUB_OUTPUT when set, so workflow
// steps downstream can branch on it.
func writeCIOutputs(plan signforge.RebuildPlan) error {
	path := os.Getenv("GITHUB_OUTPUT")
	if path == "" {
		return nil
	}
	names, err := json.Marshal(plan.RebuildTasks())
	if err != nil {
		return errors.Wrap(err, "marshal rebuild tasks failed")
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "open GITHUB_OUTPUT failed")
	}
	defer file.Close()
	if _, err := fmt.Fprintf(file, "rebuild_all=%t\nrebuild_tasks=%s\n", plan.RebuildAll, names); err != nil {
		return errors.Wrap(err, "write GITHUB_OUTPUT failed")
	}
	return nil
}

func logPlanSummary(plan signforge.RebuildPlan) {
	rebuilds := plan.RebuildTasks()
	log.Info().
		Bool("rebuild_all", plan.RebuildAll).
		Int("rebuild_count", len(rebuilds)).
		Msg("change detection results")
	for _, name := range rebuilds {
		log.Info().Str("task", name).Str("reason", string(plan.Decisions[name].Reason)).Msg("will rebuild")
	}
	if len(rebuilds) == 0 {
		log.Info().Msg("no tasks need rebuilding")
	}
}
