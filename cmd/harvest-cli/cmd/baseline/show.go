package baseline

import (
	"fmt"
	"slices"

	"coursesync-backend/cmd/harvest-cli/utils"
	"coursesync-backend/lib/baseline"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(showCmd)
}

var showCmd = &cobra.Command{
	Use:   "show [partition]",
	Short: "List every baseline, or the per department counts of one.",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		_, repo, cleanup := openTracker(cmd)
		defer cleanup()

		if len(args) == 0 {
			snapshots, err := repo.List(cmd.Context())
			if err != nil {
				utils.Fatal(err)
			}
			t := utils.NewTable()
			t.AppendHeader(table.Row{"Partition", "Recorded", "Total", "Departments"})
			for _, s := range snapshots {
				t.AppendRow(table.Row{s.PartitionID, s.Timestamp.Format("2006-01-02 15:04"), s.Total, len(s.PerDepartmentCounts)})
			}
			t.Render()
			return
		}

		snapshot, err := repo.Get(cmd.Context(), args[0])
		if err != nil {
			utils.Fatal(err)
		}
		renderSnapshot(snapshot)
	},
}

func renderSnapshot(s baseline.Snapshot) {
	depts := make([]string, 0, len(s.PerDepartmentCounts))
	for dept := range s.PerDepartmentCounts {
		depts = append(depts, dept)
	}
	slices.Sort(depts)

	t := utils.NewTable()
	t.SetTitle(fmt.Sprintf("%s @ %s", s.PartitionID, s.Timestamp.Format("2006-01-02 15:04")))
	t.AppendHeader(table.Row{"Department", "Count", "Prefixes"})
	for _, dept := range depts {
		prefixes := s.PerPrefixCounts[dept]
		names := make([]string, 0, len(prefixes))
		for prefix := range prefixes {
			names = append(names, prefix)
		}
		slices.Sort(names)
		cell := ""
		for i, prefix := range names {
			if i > 0 {
				cell += ", "
			}
			cell += fmt.Sprintf("%s=%d", prefix, prefixes[prefix])
		}
		t.AppendRow(table.Row{dept, s.PerDepartmentCounts[dept], cell})
	}
	t.AppendFooter(table.Row{"Total", s.Total, ""})
	t.Render()
}
