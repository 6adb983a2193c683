package baseline

import (
	"context"
	"errors"
	"time"

	"coursesync-backend/lib/records"
)

// ErrNotFound is returned by a Repository for a partition that was never
// recorded.
var ErrNotFound = errors.New("baseline not found")

// Snapshot is the last recorded shape of a partition.
type Snapshot struct {
	PartitionID         string         `json:"partition_id"`
	Timestamp           time.Time      `json:"timestamp"`
	Total               int            `json:"total"`
	PerDepartmentCounts map[string]int `json:"per_department_counts"`
	// department -> prefix -> count
	PerPrefixCounts map[string]map[string]int `json:"per_prefix_counts,omitempty"`
	Metadata        map[string]string         `json:"metadata,omitempty"`
}

// SnapshotOf turns a run's aggregates into a snapshot.
func SnapshotOf(partitionID string, summary records.Summary, at time.Time) Snapshot {
	prefixes := make(map[string]map[string]int, len(summary.Departments))
	for dept, d := range summary.Departments {
		counts := make(map[string]int, len(d.Prefixes))
		for prefix, n := range d.Prefixes {
			counts[prefix] = n
		}
		prefixes[dept] = counts
	}
	return Snapshot{
		PartitionID:         partitionID,
		Timestamp:           at,
		Total:               summary.Total,
		PerDepartmentCounts: summary.DepartmentCounts(),
		PerPrefixCounts:     prefixes,
	}
}

type Repository interface {
	// Get returns ErrNotFound when the partition has no baseline.
	Get(ctx context.Context, partitionID string) (Snapshot, error)
	// Put replaces the partition's baseline.
	Put(ctx context.Context, snapshot Snapshot) error
	List(ctx context.Context) ([]Snapshot, error)
}
