package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/shopkeep/shopsync/internal/schema"
	"github.com/shopkeep/shopsync/internal/ui"
)

const dataNote = `
Changes are saved on this device and pushed by the next sync. Stop a
running daemon first: it keeps its own copy of the data in memory.`

var putCmd = &cobra.Command{
	Use:     "put <collection> [id]",
	GroupID: "data",
	Short:   "Create or replace a record",
	Long: `Write a JSON object into a collection.

With an id the record is created or replaced. Without one it is created,
taking the id from the payload's "id" field or generating one.

The payload comes from --data, --file, or stdin when neither is given.

Examples:
  shopsync put products p1 --data '{"name":"Soap","price":250}'
  shopsync put orders --file order.json
  echo '{"name":"Ada"}' | shopsync put customers` + dataNote,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readPayload(cmd)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		if _, err := a.signIn(ctx); err != nil {
			return err
		}

		var rec schema.Record
		if len(args) == 2 {
			rec, err = a.store.Put(args[0], args[1], data)
		} else {
			rec, err = a.store.Create(args[0], data)
		}
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(rec)
		}
		fmt.Printf("%s Saved %s/%s\n", ui.RenderPass("✓"), args[0], rec.ID)
		return nil
	},
}

func readPayload(cmd *cobra.Command) (json.RawMessage, error) {
	inline, _ := cmd.Flags().GetString("data")
	file, _ := cmd.Flags().GetString("file")

	var data []byte
	var err error
	switch {
	case inline != "" && file != "":
		return nil, fmt.Errorf("--data and --file are mutually exclusive")
	case inline != "":
		data = []byte(inline)
	case file != "":
		// #nosec G304 - user-supplied path
		data, err = os.ReadFile(file)
	default:
		if ui.IsTerminal(os.Stdin) {
			return nil, fmt.Errorf("payload required (--data, --file or stdin)")
		}
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return data, nil
}

var getCmd = &cobra.Command{
	Use:     "get <collection> <id>",
	GroupID: "data",
	Short:   "Print a record",
	Args:    cobra.ExactArgs(2),
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

		rec, err := a.store.Get(args[0], args[1])
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(rec)
		}

		var payload any
		if err := json.Unmarshal(rec.Data, &payload); err != nil {
			return err
		}
		fmt.Print(ui.KeyValues(
			[2]string{"ID", rec.ID},
			[2]string{"Updated", rec.UpdatedAt.Local().Format(time.RFC3339)},
		))
		return outputJSON(payload)
	},
}

var listCmd = &cobra.Command{
	Use:     "list <collection>",
	GroupID: "data",
	Short:   "List the records of a collection",
	Long: `List the records of a collection, sorted by id.

--changed-since takes a timestamp, a date or an expression such as
"2 hours ago" or "yesterday".

Examples:
  shopsync list products
  shopsync list orders --changed-since "3 days ago" --json`,
	Args: cobra.ExactArgs(1),
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

		var recs []schema.Record
		if since, _ := cmd.Flags().GetString("changed-since"); since != "" {
			t, err := ui.ParseTime(since, time.Now())
			if err != nil {
				return err
			}
			recs, err = a.store.ListChangedSince(args[0], t)
			if err != nil {
				return err
			}
		} else {
			recs, err = a.store.List(args[0])
			if err != nil {
				return err
			}
		}

		if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 && len(recs) > limit {
			recs = recs[:limit]
		}

		if jsonOutput {
			return outputJSON(recs)
		}
		if len(recs) == 0 {
			fmt.Println(ui.RenderMuted("No records"))
			return nil
		}

		now := time.Now()
		rows := make([][]string, 0, len(recs))
		for _, rec := range recs {
			rows = append(rows, []string{rec.ID, ui.Age(rec.UpdatedAt, now), ui.Truncate(string(rec.Data), 60)})
		}
		fmt.Println(ui.Table([]string{"ID", "UPDATED", "DATA"}, rows))
		fmt.Printf("%d record(s)\n", len(recs))
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <collection> <id>...",
	GroupID: "data",
	Short:   "Delete records",
	Long:    "Delete records locally and queue their deletion on the backend." + dataNote,
	Args:    cobra.MinimumNArgs(2),
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

		collection := args[0]
		for _, id := range args[1:] {
			if err := a.store.Delete(collection, id); err != nil {
				return err
			}
			if !jsonOutput {
				fmt.Printf("%s Deleted %s/%s\n", ui.RenderPass("✓"), collection, id)
			}
		}
		if jsonOutput {
			return outputJSON(map[string]any{"collection": collection, "deleted": args[1:]})
		}
		return nil
	},
}

func init() {
	putCmd.Flags().String("data", "", "JSON payload")
	putCmd.Flags().StringP("file", "f", "", "Read the JSON payload from a file")

	listCmd.Flags().String("changed-since", "", "Only records changed after this time")
	listCmd.Flags().IntP("limit", "n", 0, "Maximum number of records (0 = all)")

	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
}
