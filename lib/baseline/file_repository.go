package baseline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// FileRepository keeps one JSON document per partition in a directory.
type FileRepository struct {
	dir string
}

func NewFileRepository(dir string) (FileRepository, error) {
	err := os.MkdirAll(dir, 0777)
	if err != nil {
		return FileRepository{}, err
	}
	return FileRepository{dir: dir}, nil
}

var unsafeFilename = regexp.MustCompile(`[^\w\-.]+`)

func (r FileRepository) path(partitionID string) string {
	name := unsafeFilename.ReplaceAllString(partitionID, "_")
	return filepath.Join(r.dir, fmt.Sprintf("baseline_%s.json", name))
}

func (r FileRepository) Get(_ context.Context, partitionID string) (Snapshot, error) {
	contents, err := os.ReadFile(r.path(partitionID))
	if os.IsNotExist(err) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}
	var snapshot Snapshot
	err = json.Unmarshal(contents, &snapshot)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse baseline of %s: %w", partitionID, err)
	}
	return snapshot, nil
}

// Put writes to a temporary file first so a crash never leaves a
// truncated baseline behind.
func (r FileRepository) Put(_ context.Context, snapshot Snapshot) error {
	contents, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	target := r.path(snapshot.PartitionID)
	tmp, err := os.CreateTemp(r.dir, ".baseline-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	_, err = tmp.Write(contents)
	if err != nil {
		tmp.Close()
		return err
	}
	err = tmp.Close()
	if err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}

func (r FileRepository) List(ctx context.Context) ([]Snapshot, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, err
	}
	var out []Snapshot
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "baseline_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		contents, err := os.ReadFile(filepath.Join(r.dir, name))
		if err != nil {
			return nil, err
		}
		var snapshot Snapshot
		err = json.Unmarshal(contents, &snapshot)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		out = append(out, snapshot)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PartitionID < out[j].PartitionID
	})
	return out, nil
}
