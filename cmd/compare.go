package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	compareSchools []string
	compareFields  []string
	compareFormat  string
	compareWidth   int
)

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare selected fields across schools",
	Long: "Builds a comparison matrix from each school's latest record. Fields are " +
		"category.field selectors, e.g. tuition.grade_level_costs[Grade 1], or a bare category for all of its fields.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkFormat(compareFormat); err != nil {
			return err
		}
		ctx := cmd.Context()
		env, err := initEnv(ctx, "offline")
		if err != nil {
			return err
		}
		defer env.Close()

		m, err := env.Service.CompareSchools(ctx, compareSchools, compareFields)
		if err != nil {
			return err
		}
		if compareFormat == formatJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(m)
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderMatrix(m, compareFormat, compareWidth))
		return nil
	},
}

func init() {
	compareCmd.Flags().StringSliceVar(&compareSchools, "schools", nil, "school IDs to compare (default all)")
	compareCmd.Flags().StringSliceVar(&compareFields, "fields", nil, "field selectors (required)")
	compareCmd.Flags().StringVar(&compareFormat, "format", formatTable, "output format: table, markdown or json")
	compareCmd.Flags().IntVar(&compareWidth, "width", 40, "wrap cells wider than this (0 disables)")
	_ = compareCmd.MarkFlagRequired("fields")
	rootCmd.AddCommand(compareCmd)
}
