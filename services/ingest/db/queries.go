package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Table is a record table and its natural key columns.
type Table struct {
	Name string
	Key  []string
}

var Schedules = Table{
	Name: "schedules",
	Key:  []string{"term_code", "subject_code", "section", "department"},
}

var Curricula = Table{
	Name: "curricula",
	Key:  []string{"program_version_id", "course_code", "year_level", "semester"},
}

func (q *Queries) DeletePartition(ctx context.Context, table Table, partitionID string) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		fmt.Sprintf("delete from %s where partition_id = ?", table.Name),
		partitionID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type UpsertRecordParams struct {
	PartitionID string
	Key         []string
	Data        string
	UpdatedAt   int64
}

func (q *Queries) UpsertRecord(ctx context.Context, table Table, arg UpsertRecordParams) error {
	if len(arg.Key) != len(table.Key) {
		return fmt.Errorf("%s: expected %d key values, got %d", table.Name, len(table.Key), len(arg.Key))
	}
	columns := append([]string{"partition_id"}, table.Key...)
	columns = append(columns, "data", "updated_at")
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")

	query := fmt.Sprintf(
		`insert into %s (%s) values (%s)
on conflict (%s) do update set
    partition_id = excluded.partition_id,
    data = excluded.data,
    updated_at = excluded.updated_at`,
		table.Name,
		strings.Join(columns, ", "),
		placeholders,
		strings.Join(table.Key, ", "),
	)

	args := make([]interface{}, 0, len(columns))
	args = append(args, arg.PartitionID)
	for _, k := range arg.Key {
		args = append(args, k)
	}
	args = append(args, arg.Data, arg.UpdatedAt)

	_, err := q.db.ExecContext(ctx, query, args...)
	return err
}

func (q *Queries) CountPartition(ctx context.Context, table Table, partitionID string) (int64, error) {
	row := q.db.QueryRowContext(ctx,
		fmt.Sprintf("select count(*) from %s where partition_id = ?", table.Name),
		partitionID,
	)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const createRun = `insert into runs (run_id, partition_id, declared_total)
values (?, ?, ?)
on conflict (run_id) do update set declared_total = excluded.declared_total`

func (q *Queries) CreateRun(ctx context.Context, runID, partitionID string, declaredTotal int64) error {
	_, err := q.db.ExecContext(ctx, createRun, runID, partitionID, declaredTotal)
	return err
}

const getDeclaredTotal = `select declared_total from runs where run_id = ?`

func (q *Queries) GetDeclaredTotal(ctx context.Context, runID string) (int64, error) {
	row := q.db.QueryRowContext(ctx, getDeclaredTotal, runID)
	var total int64
	err := row.Scan(&total)
	return total, err
}

type RecordChunkParams struct {
	RunID       string
	ChunkIndex  int64
	PartitionID string
	DataType    string
	TotalChunks int64
	RecordCount int64
	Replaced    bool
	ReceivedAt  int64
}

// chunk resends replace the previous receipt so the received count of a
// run stays exact
const recordChunk = `insert into chunks (
    run_id, chunk_index, partition_id, data_type,
    total_chunks, record_count, replaced, received_at
) values (?, ?, ?, ?, ?, ?, ?, ?)
on conflict (run_id, chunk_index) do update set
    record_count = excluded.record_count,
    replaced = excluded.replaced,
    received_at = excluded.received_at`

func (q *Queries) RecordChunk(ctx context.Context, arg RecordChunkParams) error {
	_, err := q.db.ExecContext(ctx, recordChunk,
		arg.RunID,
		arg.ChunkIndex,
		arg.PartitionID,
		arg.DataType,
		arg.TotalChunks,
		arg.RecordCount,
		arg.Replaced,
		arg.ReceivedAt,
	)
	return err
}

const receivedInRun = `select coalesce(sum(record_count), 0) from chunks
where run_id = ? and chunk_index != ?`

// ReceivedInRun counts the rows received for a run outside of one chunk.
func (q *Queries) ReceivedInRun(ctx context.Context, runID string, exceptChunk int64) (int64, error) {
	row := q.db.QueryRowContext(ctx, receivedInRun, runID, exceptChunk)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const countReplaced = `select count(*) from chunks where run_id = ? and replaced = 1`

func (q *Queries) CountReplaced(ctx context.Context, runID string) (int64, error) {
	row := q.db.QueryRowContext(ctx, countReplaced, runID)
	var count int64
	err := row.Scan(&count)
	return count, err
}
