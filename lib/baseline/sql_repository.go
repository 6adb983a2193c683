package baseline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"coursesync-backend/lib/baseline/db"
)

// SQLRepository keeps one row per partition, the schema lives in
// db.Schema.
type SQLRepository struct {
	qry *db.Queries
}

func NewSQLRepository(database *sql.DB) SQLRepository {
	return SQLRepository{qry: db.New(database)}
}

func (r SQLRepository) Get(ctx context.Context, partitionID string) (Snapshot, error) {
	row, err := r.qry.GetBaseline(ctx, partitionID)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}
	return decodeRow(row)
}

func (r SQLRepository) Put(ctx context.Context, snapshot Snapshot) error {
	serialized, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return r.qry.PutBaseline(ctx, db.PutBaselineParams{
		PartitionID: snapshot.PartitionID,
		RecordedAt:  snapshot.Timestamp.Unix(),
		Total:       int64(snapshot.Total),
		Snapshot:    string(serialized),
	})
}

func (r SQLRepository) List(ctx context.Context) ([]Snapshot, error) {
	rows, err := r.qry.ListBaselines(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(rows))
	for _, row := range rows {
		snapshot, err := decodeRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, snapshot)
	}
	return out, nil
}

func decodeRow(row db.Baseline) (Snapshot, error) {
	var snapshot Snapshot
	err := json.Unmarshal([]byte(row.Snapshot), &snapshot)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse baseline of %s: %w", row.PartitionID, err)
	}
	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = time.Unix(row.RecordedAt, 0)
	}
	return snapshot, nil
}
