package main

import (
	signforge "github.com/signforge/signforge"
	"github.com/spf13/cobra"
)

// newCheckCmd runs the decision phase only: it emits the rebuild plan for the
// CI workflow without signing anything and without advancing the snapshots.
func newCheckCmd() *cobra.Command {
	opts := &pipelineOptions{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Compute the rebuild plan without executing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildEngineConfig(opts)
			if err != nil {
				return err
			}
			engine, err := signforge.NewEngine(cfg)
			if err != nil {
				return err
			}
			eval, err := engine.Evaluate(cmd.Context(), opts.force)
			if err != nil {
				return err
			}
			logPlanSummary(eval.Plan)
			return writeCIOutputs(eval.Plan)
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "", "task configuration TOML (default $CONFIG_TOML or configs/tasks.toml)")
	cmd.Flags().StringVar(&opts.devicePath, "device-list", "", "current device-list JSON (default $DEVICE_LIST_JSON)")
	cmd.Flags().StringVar(&opts.cacheDir, "cache-dir", "", "snapshot cache directory (default $SIGNFORGE_CACHE_DIR)")
	cmd.Flags().BoolVar(&opts.force, "force", false, "force rebuild of every task (also $FORCE_REBUILD)")
	return cmd
}
