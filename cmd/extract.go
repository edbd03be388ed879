package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/school-intel/internal/pipeline"
	"github.com/sells-group/school-intel/internal/registry"
)

var (
	extractManifest string
	extractWorkers  int
	extractReport   string
)

var extractCmd = &cobra.Command{
	Use:   "extract [school-id...]",
	Short: "Fetch, normalize and extract records for schools",
	Long: "Runs the extraction pipeline for the given registered schools (all when none are given) " +
		"or for every school in --manifest. Ctrl-C stops new schools from starting; schools " +
		"already in flight finish and are recorded.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if extractWorkers > 0 {
			cfg.Extract.Workers = extractWorkers
		}
		env, err := initEnv(ctx, "extract")
		if err != nil {
			return err
		}
		defer env.Close()

		var report *pipeline.RunReport
		var runErr error
		if extractManifest != "" {
			schools, err := registry.LoadSchools(extractManifest)
			if err != nil {
				return err
			}
			report, runErr = env.Service.RunSchools(ctx, schools)
		} else {
			report, runErr = env.Service.RunExtraction(ctx, args)
		}
		if report == nil {
			return runErr
		}

		if extractReport != "" {
			data, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return eris.Wrap(err, "marshal run report")
			}
			if err := os.WriteFile(extractReport, data, 0o644); err != nil {
				return eris.Wrap(err, "write run report")
			}
		}
		fmt.Fprint(cmd.OutOrStdout(), pipeline.FormatReport(report))

		if runErr != nil {
			if report.Cancelled {
				zap.L().Warn("extraction interrupted", zap.Int("skipped", report.Count(pipeline.OutcomeSkipped)))
			}
			return runErr
		}
		return nil
	},
}

func init() {
	extractCmd.Flags().StringVar(&extractManifest, "manifest", "", "register and extract the schools in this manifest file")
	extractCmd.Flags().IntVar(&extractWorkers, "workers", 0, "schools processed concurrently (default from config)")
	extractCmd.Flags().StringVar(&extractReport, "report", "", "also write the run report as JSON to this path")
	rootCmd.AddCommand(extractCmd)
}
