package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shopkeep/shopsync/internal/migrate"
	"github.com/shopkeep/shopsync/internal/ui"
)

var importCmd = &cobra.Command{
	Use:     "import <collection> <file>",
	GroupID: "data",
	Short:   "Import records from CSV, JSONL, JSON or YAML",
	Long: `Import records from a file into a collection of the signed-in business.

The format is detected from the extension (.csv, .jsonl, .ndjson, .json,
.yaml, .yml) unless --format is given.

Product CSV files are mapped by header: id, name, sku, barcode, category,
price, cost, stock and unit. Prices and costs are decimal amounts. Other
collections map every CSV column to a string field.

Records whose id already exists are skipped unless --overwrite is set.
Rows that fail to parse are reported and do not stop the import.

Examples:
  shopsync import products catalog.csv
  shopsync import orders orders.jsonl --dry-run
  shopsync import customers customers.yaml --overwrite` + dataNote,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		format, _ := cmd.Flags().GetString("format")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		overwrite, _ := cmd.Flags().GetBool("overwrite")

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		if _, err := a.signIn(ctx); err != nil {
			return err
		}

		result, err := migrate.Import(ctx, a.store, migrate.ImportOptions{
			Collection: args[0],
			Path:       args[1],
			Format:     migrate.Format(format),
			DryRun:     dryRun,
			Overwrite:  overwrite,
		})
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(result)
		}

		verb := "Imported"
		if dryRun {
			verb = "Validated"
		}
		fmt.Printf("%s %s %s into %s\n", ui.RenderPass("✓"), verb, args[1], args[0])
		fmt.Print(ui.KeyValues(
			[2]string{"Read", fmt.Sprint(result.Read)},
			[2]string{"Created", fmt.Sprint(result.Created)},
			[2]string{"Updated", fmt.Sprint(result.Updated)},
			[2]string{"Skipped", fmt.Sprint(result.Skipped)},
			[2]string{"Errors", fmt.Sprint(len(result.Errors))},
		))
		for _, e := range result.Errors {
			fmt.Printf("  %s %s\n", ui.RenderWarn("⚠"), e)
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:     "export <collection> [file]",
	GroupID: "data",
	Short:   "Export records as JSON, JSONL or YAML",
	Long: `Export the payloads of a collection. Without a file the export is written
to stdout. The output can be imported again.

Examples:
  shopsync export products > products.json
  shopsync export orders orders.jsonl
  shopsync export customers --format yaml`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		if _, err := a.signIn(ctx); err != nil {
			return err
		}

		recs, err := a.store.List(args[0])
		if err != nil {
			return err
		}

		format := migrate.FormatJSON
		if f, _ := cmd.Flags().GetString("format"); f != "" {
			format = migrate.Format(f)
		} else if len(args) == 2 {
			if format, err = migrate.DetectFormat(args[1]); err != nil {
				return err
			}
		}

		if len(args) == 1 {
			return migrate.Export(os.Stdout, recs, format)
		}
		if err := migrate.ExportFile(args[1], recs, format); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "%s Exported %d record(s) to %s\n", ui.RenderPass("✓"), len(recs), args[1])
		return nil
	},
}

func init() {
	importCmd.Flags().String("format", "", "Input format: csv, jsonl, json or yaml (default: from extension)")
	importCmd.Flags().Bool("dry-run", false, "Validate without writing")
	importCmd.Flags().Bool("overwrite", false, "Replace records whose id already exists")

	exportCmd.Flags().String("format", "", "Output format: json, jsonl or yaml (default: from extension, else json)")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
}
