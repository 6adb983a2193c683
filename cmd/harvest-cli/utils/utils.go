package utils

import (
	"fmt"
	"os"

	"coursesync-backend/lib/delivery"
	"coursesync-backend/lib/restyutil"

	"github.com/jedib0t/go-pretty/v6/table"
)

func NewTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

func Fatal(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}

// DumpHttp writes every exchange of the transmitter into dir.
func DumpHttp(transmitter *delivery.Transmitter, dir string) error {
	if dir == "" {
		return nil
	}
	output, err := restyutil.NewFilesystemOutput(dir)
	if err != nil {
		return err
	}
	restyutil.InstrumentClient(transmitter.Client(), output)
	return nil
}

// RenderDelivery prints one row per chunk of a delivery.
func RenderDelivery(result delivery.Result) {
	t := NewTable()
	t.SetTitle(fmt.Sprintf("%s (run %s)", result.PartitionID, result.RunID))
	t.AppendHeader(table.Row{"Chunk", "Records", "Replace", "Attempts", "Inserted", "Error"})
	for _, c := range result.Chunks {
		replace := "-"
		if c.Replace != nil {
			replace = fmt.Sprint(*c.Replace)
		}
		errText := ""
		if c.Err != nil {
			errText = fmt.Sprintf("%s: %v", c.Category, c.Err)
		}
		t.AppendRow(table.Row{c.Index, c.Size, replace, c.Attempts, c.Ack.Inserted, errText})
	}
	t.AppendFooter(table.Row{
		"", result.Records, "",
		fmt.Sprintf("%d/%d ok", result.SuccessCount, result.Total),
		result.Inserted, "",
	})
	t.Render()
}
