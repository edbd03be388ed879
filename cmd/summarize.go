package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/school-intel/internal/model"
)

var (
	summarizeOut  string
	summarizeJSON bool
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Write model-generated summaries from stored records",
}

var summarizeSchoolCmd = &cobra.Command{
	Use:   "school <school-id>",
	Short: "Summarize one school, one section per category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "summarize")
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Service.SummarizeSchool(ctx, args[0])
		if err != nil {
			return err
		}
		return writeSummary(cmd, report)
	},
}

var summarizeMarketCmd = &cobra.Command{
	Use:   "market [school-id...]",
	Short: "Summarize the market across schools in batches",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "summarize")
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Service.SummarizeMarket(ctx, args)
		if err != nil {
			return err
		}
		return writeSummary(cmd, report)
	},
}

func writeSummary(cmd *cobra.Command, report *model.SummaryReport) error {
	var out []byte
	if summarizeJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return eris.Wrap(err, "marshal summary")
		}
		out = append(data, '\n')
	} else {
		out = []byte(report.Text + "\n")
	}

	if summarizeOut == "" {
		_, err := cmd.OutOrStdout().Write(out)
		return err
	}
	if err := os.WriteFile(summarizeOut, out, 0o644); err != nil {
		return eris.Wrap(err, "write summary")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "summary %s written to %s\n", report.ID, summarizeOut)
	return nil
}

func init() {
	summarizeCmd.PersistentFlags().StringVar(&summarizeOut, "out", "", "write the summary to this file instead of stdout")
	summarizeCmd.PersistentFlags().BoolVar(&summarizeJSON, "json", false, "emit the full summary report as JSON")
	summarizeCmd.AddCommand(summarizeSchoolCmd, summarizeMarketCmd)
	rootCmd.AddCommand(summarizeCmd)
}
