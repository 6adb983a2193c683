package db

import (
	"context"
	"database/sql"
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

type Baseline struct {
	PartitionID string
	RecordedAt  int64
	Total       int64
	Snapshot    string
}

const getBaseline = `select partition_id, recorded_at, total, snapshot from baselines
where partition_id = ?`

func (q *Queries) GetBaseline(ctx context.Context, partitionID string) (Baseline, error) {
	row := q.db.QueryRowContext(ctx, getBaseline, partitionID)
	var i Baseline
	err := row.Scan(
		&i.PartitionID,
		&i.RecordedAt,
		&i.Total,
		&i.Snapshot,
	)
	return i, err
}

const putBaseline = `insert into baselines (partition_id, recorded_at, total, snapshot)
values (?, ?, ?, ?)
on conflict (partition_id) do update set
    recorded_at = excluded.recorded_at,
    total = excluded.total,
    snapshot = excluded.snapshot`

type PutBaselineParams struct {
	PartitionID string
	RecordedAt  int64
	Total       int64
	Snapshot    string
}

func (q *Queries) PutBaseline(ctx context.Context, arg PutBaselineParams) error {
	_, err := q.db.ExecContext(ctx, putBaseline,
		arg.PartitionID,
		arg.RecordedAt,
		arg.Total,
		arg.Snapshot,
	)
	return err
}

const listBaselines = `select partition_id, recorded_at, total, snapshot from baselines
order by partition_id`

func (q *Queries) ListBaselines(ctx context.Context) ([]Baseline, error) {
	rows, err := q.db.QueryContext(ctx, listBaselines)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Baseline
	for rows.Next() {
		var i Baseline
		if err := rows.Scan(
			&i.PartitionID,
			&i.RecordedAt,
			&i.Total,
			&i.Snapshot,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
