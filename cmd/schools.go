package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/school-intel/internal/registry"
)

var schoolsFormat string

var schoolsCmd = &cobra.Command{
	Use:   "schools",
	Short: "List and register schools",
}

var schoolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered schools",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkFormat(schoolsFormat); err != nil {
			return err
		}
		ctx := cmd.Context()
		env, err := initEnv(ctx, "offline")
		if err != nil {
			return err
		}
		defer env.Close()

		schools, err := env.Service.ListSchools(ctx)
		if err != nil {
			return err
		}
		if schoolsFormat == formatJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(schools)
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderSchools(schools, schoolsFormat))
		return nil
	},
}

var schoolsLoadCmd = &cobra.Command{
	Use:   "load <manifest>",
	Short: "Register schools from a yaml, json, csv or xlsx manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		schools, err := registry.LoadSchools(args[0])
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "offline")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Service.RegisterSchools(ctx, schools); err != nil {
			return err
		}
		zap.L().Info("schools registered", zap.String("manifest", args[0]), zap.Int("schools", len(schools)))
		fmt.Fprintf(cmd.OutOrStdout(), "registered %d schools\n", len(schools))
		return nil
	},
}

func init() {
	schoolsListCmd.Flags().StringVar(&schoolsFormat, "format", formatTable, "output format: table, markdown or json")
	schoolsCmd.AddCommand(schoolsListCmd, schoolsLoadCmd)
	rootCmd.AddCommand(schoolsCmd)
}
