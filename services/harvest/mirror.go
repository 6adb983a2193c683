package harvest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"

	devenv "coursesync-backend/dev/env"
	"coursesync-backend/lib/records"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Mirror receives a copy of every delivered partition, for people who
// would rather look at a spreadsheet than query the store.
type Mirror interface {
	Write(ctx context.Context, partition PartitionConfig, rows []records.Record) error
}

type nopMirror struct{}

func (nopMirror) Write(context.Context, PartitionConfig, []records.Record) error { return nil }

// CSVMirror writes <dir>/<partition>.csv, replacing the previous copy.
type CSVMirror struct {
	dir string
}

func NewCSVMirror(dir string) (CSVMirror, error) {
	resolved, err := devenv.ResolvePath(dir)
	if err != nil {
		return CSVMirror{}, err
	}
	err = os.MkdirAll(resolved, 0755)
	if err != nil {
		return CSVMirror{}, err
	}
	return CSVMirror{dir: resolved}, nil
}

var unsafeFilename = regexp.MustCompile(`[^\w\-.]+`)

func (m CSVMirror) Write(_ context.Context, partition PartitionConfig, rows []records.Record) error {
	fields, err := records.FieldsFor(partition.DataType)
	if err != nil {
		return err
	}

	columns := mirrorColumns(fields, rows)

	t := table.NewWriter()
	header := make(table.Row, len(columns))
	for i, name := range columns {
		header[i] = name
	}
	t.AppendHeader(header)
	for _, r := range rows {
		row := make(table.Row, len(columns))
		for i, name := range columns {
			row[i] = r.Field(name)
		}
		t.AppendRow(row)
	}

	path := filepath.Join(m.dir, unsafeFilename.ReplaceAllString(partition.ID, "_")+".csv")
	tmp := path + ".tmp"
	err = os.WriteFile(tmp, []byte(t.RenderCSV()+"\n"), 0644)
	if err != nil {
		return fmt.Errorf("mirror %s: %w", partition.ID, err)
	}
	return os.Rename(tmp, path)
}

// mirrorColumns is the natural key followed by every other field seen in
// rows, sorted.
func mirrorColumns(fields records.Fields, rows []records.Record) []string {
	columns := append([]string{}, fields.NaturalKey...)
	seen := map[string]bool{}
	for _, name := range columns {
		seen[name] = true
	}
	var rest []string
	for _, r := range rows {
		for name := range r {
			if !seen[name] {
				seen[name] = true
				rest = append(rest, name)
			}
		}
	}
	slices.Sort(rest)
	return append(columns, rest...)
}
