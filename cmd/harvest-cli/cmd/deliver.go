package cmd

import (
	"log/slog"

	"coursesync-backend/cmd/harvest-cli/globals"
	"coursesync-backend/cmd/harvest-cli/utils"
	"coursesync-backend/lib/delivery"
	"coursesync-backend/lib/records"
	"coursesync-backend/services/harvest"

	"github.com/spf13/cobra"
)

var dataType string

func init() {
	deliverCmd.Flags().StringVarP(&dataType, "type", "t", string(records.Schedules), "Data type of the records, schedules or curricula.")
	rootCmd.AddCommand(deliverCmd)
}

var deliverCmd = &cobra.Command{
	Use:   "deliver <partition> <file>",
	Short: "Normalize the records in a JSON file and deliver them, without touching baselines.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := globals.Get(cmd.Context())

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
		valid, report := records.NewNormalizer(fields).Normalize(raw)
		slog.Info(
			"normalized",
			"total", report.Total,
			"valid", report.Valid,
			"header_like", report.HeaderLike,
			"invalid", report.Invalid,
			"duplicates", report.Duplicates,
		)

		transmitter := delivery.NewTransmitter(ctx.Config.Delivery, ctx.Config.Retry.Policy())
		err = utils.DumpHttp(transmitter, ctx.DumpHttp)
		if err != nil {
			utils.Fatal(err)
		}

		result, err := transmitter.Deliver(cmd.Context(), delivery.Request{
			PartitionID: partition.ID,
			Source:      partition.File,
			DataType:    partition.DataType,
			Records:     valid,
			Aggregates:  records.ComputeAggregates(valid, fields),
		})
		utils.RenderDelivery(result)
		if err != nil {
			utils.Fatal(err)
		}
	},
}
