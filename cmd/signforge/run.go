package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	signforge "github.com/signforge/signforge"
	"github.com/signforge/signforge/internal/config"
	"github.com/signforge/signforge/pkg/execsign"
	"github.com/signforge/signforge/pkg/runlog"
)

// newRunCmd executes a full pipeline run: decision phase, signing and
// publishing of every included task, then the unconditional snapshot commit.
func newRunCmd() *cobra.Command {
	opts := &pipelineOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full re-sign pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildEngineConfig(opts)
			if err != nil {
				return err
			}

			signer, err := execsign.NewSigner(execsign.SignerConfig{
				ToolPath:     config.String("ZSIGN_PATH", "zsign"),
				CertPath:     config.String("APPLE_DEV_CERT_PATH", ""),
				ProfilePath:  config.String("APPLE_DEV_PROFILE_PATH", ""),
				CertPassword: config.String("APPLE_DEV_CERT_PASSWORD", ""),
				WorkDir:      config.String("SIGNFORGE_WORK_DIR", "work/signing"),
				Timeout:      config.Duration("SIGNFORGE_SIGN_TIMEOUT", 0),
			})
			if err != nil {
				return err
			}
			uploader, err := execsign.NewUploader(execsign.UploaderConfig{
				Host:     config.String("ASSETS_SERVER_IP", ""),
				User:     config.String("ASSETS_SERVER_USER", ""),
				Password: config.String("ASSETS_SERVER_CREDENTIALS", ""),
				Timeout:  config.Duration("SIGNFORGE_UPLOAD_TIMEOUT", 0),
			})
			if err != nil {
				return err
			}
			cfg.Signer = signer
			cfg.Publisher = uploader

			if ledger, err := runlog.Open(); err != nil {
				log.Warn().Err(err).Msg("run ledger unavailable, continuing without it")
			} else {
				defer ledger.Close()
				cfg.Recorder = ledger
			}

			engine, err := signforge.NewEngine(cfg)
			if err != nil {
				return err
			}
			eval, err := engine.RunOnce(cmd.Context(), opts.force)
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
