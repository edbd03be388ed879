package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/school-intel/internal/export"
)

var (
	exportSchools  []string
	exportCombined bool
	exportDir      string
	exportFile     string
	exportFields   []string
	exportSheets   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored records as JSON or a comparison spreadsheet",
}

var exportJSONCmd = &cobra.Command{
	Use:   "json",
	Short: "Write one JSON document per school, or one combined document",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "offline")
		if err != nil {
			return err
		}
		defer env.Close()

		docs, err := env.Service.ExportJSON(ctx, exportSchools, exportCombined)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(exportDir, 0o755); err != nil {
			return eris.Wrap(err, "create export dir")
		}

		keys := make([]string, 0, len(docs))
		for k := range docs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			path := filepath.Join(exportDir, k+".json")
			if err := os.WriteFile(path, docs[k], 0o644); err != nil {
				return eris.Wrapf(err, "write %s", path)
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
		}
		return nil
	},
}

var exportXLSXCmd = &cobra.Command{
	Use:   "xlsx",
	Short: "Write a comparison spreadsheet",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "offline")
		if err != nil {
			return err
		}
		defer env.Close()

		if exportSheets != "" {
			mode, err := export.ParseSheetMode(exportSheets)
			if err != nil {
				return err
			}
			env.Service.SheetMode = mode
		}

		f, err := os.Create(exportFile)
		if err != nil {
			return eris.Wrap(err, "create spreadsheet")
		}
		if err := env.Service.ExportSpreadsheet(ctx, f, exportSchools, exportFields); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrap(err, "close spreadsheet")
		}
		fmt.Fprintln(cmd.OutOrStdout(), exportFile)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <document.json>",
	Short: "Load exported JSON documents back into the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "read document")
		}
		env, err := initEnv(ctx, "offline")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Service.ImportJSON(ctx, data)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d results\n", n)
		return nil
	},
}

func init() {
	exportCmd.PersistentFlags().StringSliceVar(&exportSchools, "schools", nil, "school IDs to export (default all)")

	exportJSONCmd.Flags().BoolVar(&exportCombined, "combined", false, "write a single combined document")
	exportJSONCmd.Flags().StringVar(&exportDir, "dir", "export", "output directory")

	exportXLSXCmd.Flags().StringVar(&exportFile, "out", "comparison.xlsx", "output file")
	exportXLSXCmd.Flags().StringSliceVar(&exportFields, "fields", nil, "field selectors (required)")
	exportXLSXCmd.Flags().StringVar(&exportSheets, "sheets", "", "per-category or combined (default from config)")
	_ = exportXLSXCmd.MarkFlagRequired("fields")

	exportCmd.AddCommand(exportJSONCmd, exportXLSXCmd)
	rootCmd.AddCommand(exportCmd, importCmd)
}
