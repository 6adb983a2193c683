package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"coursesync-backend/lib/delivery"
	"coursesync-backend/lib/records"
	"coursesync-backend/services/ingest/db"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

var (
	// ErrMalformed is a chunk that can never be stored as sent.
	ErrMalformed = errors.New("malformed chunk")
	// ErrShapeMismatch is a chunk that does not fit the run it declares to
	// belong to.
	ErrShapeMismatch = errors.New("chunk does not fit the declared run")
)

type Store struct {
	db  *sql.DB
	qry *db.Queries
	now func() time.Time
}

func NewStore(database *sql.DB) Store {
	return Store{
		db:  database,
		qry: db.New(database),
		now: time.Now,
	}
}

// Chunk is one received delivery.
type Chunk struct {
	DataType    records.DataType
	PartitionID string
	RunID       string
	ChunkIndex  int
	TotalChunks int
	// Replace deletes every previous row of the partition first.
	Replace bool
	// DeclaredTotal is the row count of the whole run, if it was sent.
	DeclaredTotal *int
	Records       []records.Record
}

func tableFor(t records.DataType) (db.Table, records.Fields, error) {
	fields, err := records.FieldsFor(t)
	if err != nil {
		return db.Table{}, records.Fields{}, fmt.Errorf("%w: %s", ErrMalformed, err.Error())
	}
	switch t {
	case records.Schedules:
		return db.Schedules, fields, nil
	case records.Curricula:
		return db.Curricula, fields, nil
	}
	return db.Table{}, records.Fields{}, fmt.Errorf("%w: no table for %q", ErrMalformed, t)
}

// Ingest stores a chunk in one transaction: resending a chunk without
// Replace leaves the stored rows as they were after the first send.
func (s Store) Ingest(ctx context.Context, chunk Chunk) (delivery.Ack, error) {
	table, fields, err := tableFor(chunk.DataType)
	if err != nil {
		return delivery.Ack{}, err
	}
	if chunk.PartitionID == "" {
		return delivery.Ack{}, fmt.Errorf("%w: missing partition_id", ErrMalformed)
	}

	keys := make([][]string, len(chunk.Records))
	data := make([]string, len(chunk.Records))
	for i, r := range chunk.Records {
		key := make([]string, len(fields.NaturalKey))
		for j, name := range fields.NaturalKey {
			key[j] = r.Field(name)
			if key[j] == "" {
				return delivery.Ack{}, fmt.Errorf("%w: record %d has no %s", ErrMalformed, i, name)
			}
		}
		keys[i] = key
		serialized, err := json.Marshal(r)
		if err != nil {
			return delivery.Ack{}, fmt.Errorf("%w: record %d: %s", ErrMalformed, i, err.Error())
		}
		data[i] = string(serialized)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return delivery.Ack{}, err
	}
	defer tx.Rollback()
	txqry := s.qry.WithTx(tx)

	if chunk.RunID != "" {
		err = s.checkShape(ctx, txqry, chunk)
		if err != nil {
			return delivery.Ack{}, err
		}
	}

	if chunk.Replace {
		_, err = txqry.DeletePartition(ctx, table, chunk.PartitionID)
		if err != nil {
			return delivery.Ack{}, err
		}
	}

	now := s.now().Unix()
	for i := range chunk.Records {
		err = txqry.UpsertRecord(ctx, table, db.UpsertRecordParams{
			PartitionID: chunk.PartitionID,
			Key:         keys[i],
			Data:        data[i],
			UpdatedAt:   now,
		})
		if err != nil {
			return delivery.Ack{}, err
		}
	}

	if chunk.RunID != "" {
		err = txqry.RecordChunk(ctx, db.RecordChunkParams{
			RunID:       chunk.RunID,
			ChunkIndex:  int64(chunk.ChunkIndex),
			PartitionID: chunk.PartitionID,
			DataType:    string(chunk.DataType),
			TotalChunks: int64(chunk.TotalChunks),
			RecordCount: int64(len(chunk.Records)),
			Replaced:    chunk.Replace,
			ReceivedAt:  now,
		})
		if err != nil {
			return delivery.Ack{}, err
		}
	}

	total, err := txqry.CountPartition(ctx, table, chunk.PartitionID)
	if err != nil {
		return delivery.Ack{}, err
	}
	err = tx.Commit()
	if err != nil {
		return delivery.Ack{}, err
	}
	return delivery.Ack{
		Inserted: len(chunk.Records),
		Total:    int(total),
	}, nil
}

// checkShape rejects chunks that would push a run past the total it
// declared on its first chunk.
func (s Store) checkShape(ctx context.Context, txqry *db.Queries, chunk Chunk) error {
	if chunk.DeclaredTotal != nil {
		if *chunk.DeclaredTotal < len(chunk.Records) {
			return fmt.Errorf(
				"%w: declares %d rows but carries %d",
				ErrShapeMismatch, *chunk.DeclaredTotal, len(chunk.Records),
			)
		}
		err := txqry.CreateRun(ctx, chunk.RunID, chunk.PartitionID, int64(*chunk.DeclaredTotal))
		if err != nil {
			return err
		}
	}

	declared, err := txqry.GetDeclaredTotal(ctx, chunk.RunID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	received, err := txqry.ReceivedInRun(ctx, chunk.RunID, int64(chunk.ChunkIndex))
	if err != nil {
		return err
	}
	if received+int64(len(chunk.Records)) > declared {
		return fmt.Errorf(
			"%w: run %s declared %d rows, %d received so far plus %d in chunk %d",
			ErrShapeMismatch, chunk.RunID, declared, received, len(chunk.Records), chunk.ChunkIndex,
		)
	}
	return nil
}

// Count returns the number of stored rows of a partition.
func (s Store) Count(ctx context.Context, dataType records.DataType, partitionID string) (int, error) {
	table, _, err := tableFor(dataType)
	if err != nil {
		return 0, err
	}
	count, err := s.qry.CountPartition(ctx, table, partitionID)
	return int(count), err
}

// ReplacedChunks returns how many chunks of a run carried the replace flag.
func (s Store) ReplacedChunks(ctx context.Context, runID string) (int, error) {
	count, err := s.qry.CountReplaced(ctx, runID)
	return int(count), err
}
