package cmd

import (
	"fmt"

	"coursesync-backend/cmd/harvest-cli/globals"
	"coursesync-backend/cmd/harvest-cli/utils"
	"coursesync-backend/services/harvest"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Harvest, check and deliver every configured partition once.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := globals.Get(cmd.Context())

		job, cleanup, err := harvest.Setup(ctx.Config)
		if err != nil {
			utils.Fatal(err)
		}
		defer cleanup()
		err = utils.DumpHttp(job.Transmitter(), ctx.DumpHttp)
		if err != nil {
			utils.Fatal(err)
		}

		reports, runErr := job.Run(cmd.Context())

		t := utils.NewTable()
		t.AppendHeader(table.Row{"Partition", "Records", "Excluded", "Baseline", "Chunks", "Status"})
		for _, r := range reports {
			status := "ok"
			if r.NeedsAttention() {
				status = "attention"
			}
			if r.Err != nil {
				status = "failed"
			}
			t.AppendRow(table.Row{
				r.PartitionID,
				r.Normalize.Valid,
				r.Normalize.Excluded(),
				r.Comparison.Message,
				fmt.Sprintf("%d/%d", r.Delivery.SuccessCount, r.Delivery.Total),
				status,
			})
		}
		t.Render()

		if runErr != nil {
			utils.Fatal(runErr)
		}
	},
}
