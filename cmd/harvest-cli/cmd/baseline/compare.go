package baseline

import (
	"fmt"

	"coursesync-backend/cmd/harvest-cli/utils"
	"coursesync-backend/lib/baseline"
	"coursesync-backend/lib/records"
	"coursesync-backend/lib/timezone"
	"coursesync-backend/services/harvest"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var dataType string

func init() {
	compareCmd.Flags().StringVarP(&dataType, "type", "t", string(records.Schedules), "Data type of the records, schedules or curricula.")
	RootCmd.AddCommand(compareCmd)
}

var compareCmd = &cobra.Command{
	Use:   "compare <partition> <file>",
	Short: "Compare the records in a JSON file against the partition's baseline without recording it.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		tracker, _, cleanup := openTracker(cmd)
		defer cleanup()

		partition := harvest.PartitionConfig{
			ID:       args[0],
			DataType: records.DataType(dataType),
			File:     args[1],
		}
		fields, err := records.FieldsFor(partition.DataType)
		if err != nil {
			utils.Fatal(err)
		}
		docs, err := harvest.FileSource{}.Fetch(cmd.Context(), partition)
		if err != nil {
			utils.Fatal(err)
		}
		var raw []records.Record
		for _, doc := range docs {
			raw = append(raw, doc.Records...)
		}
		valid, _ := records.NewNormalizer(fields).Normalize(raw)

		current := baseline.SnapshotOf(partition.ID, records.ComputeAggregates(valid, fields), timezone.Now())
		comparison, err := tracker.Compare(cmd.Context(), current)
		if err != nil {
			utils.Fatal(err)
		}

		t := utils.NewTable()
		t.SetTitle(comparison.Message)
		t.AppendHeader(table.Row{"Kind", "Severity", "Department", "Prefix", "Previous", "Current"})
		if comparison.IsRegression {
			t.AppendRow(table.Row{"regression", baseline.Critical.String(), "", "", comparison.Previous, comparison.Current})
		}
		for _, f := range comparison.Findings {
			t.AppendRow(table.Row{f.Kind, f.Severity.String(), f.Department, f.Prefix, f.Previous, f.Current})
		}
		t.Render()

		err = tracker.Verdict(comparison)
		if err != nil {
			utils.Fatal(fmt.Errorf("%s: %w", partition.ID, err))
		}
	},
}
