package harvest

import (
	"bytes"
	"context"
	"errors"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	devenv "coursesync-backend/dev/env"
	"coursesync-backend/lib/identity"
	"coursesync-backend/lib/records"
	"coursesync-backend/lib/scrapers/curriculum"
)

// Document is one fetched source document.
type Document struct {
	Title string `json:"title"`
	// Program is set for documents that must prove they belong to the
	// program they were requested for.
	Program *identity.Request `json:"program"`
	Records []records.Record  `json:"records"`
}

type Source interface {
	Fetch(ctx context.Context, partition PartitionConfig) ([]Document, error)
}

// ErrNoDocuments is returned for an export without any documents, which is
// almost always a file in the wrong shape.
var ErrNoDocuments = errors.New("export has no documents")

// FileSource reads a partition's documents from its File, which holds
// either {"documents": [...]} or a bare array of records.
type FileSource struct{}

func (FileSource) Fetch(_ context.Context, partition PartitionConfig) ([]Document, error) {
	path, err := devenv.ResolvePath(partition.File)
	if err != nil {
		return nil, err
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(contents)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var rows []records.Record
		err = json.Unmarshal(trimmed, &rows)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return []Document{{Records: rows}}, nil
	}

	var export struct {
		Documents []Document `json:"documents"`
	}
	err = json.Unmarshal(trimmed, &export)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(export.Documents) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoDocuments)
	}
	return export.Documents, nil
}

// CurriculumSource fetches every program of a partition through one shared
// client.
type CurriculumSource struct {
	client *curriculum.Client
}

func NewCurriculumSource(client *curriculum.Client) CurriculumSource {
	return CurriculumSource{client: client}
}

func (s CurriculumSource) Fetch(ctx context.Context, partition PartitionConfig) ([]Document, error) {
	programs, err := s.programs(ctx, partition)
	if err != nil {
		return nil, err
	}

	var out []Document
	for _, program := range programs {
		page, err := s.client.FetchProgram(ctx, program)
		if err != nil {
			// one unreachable program does not sink the partition
			slog.WarnContext(ctx, "failed to fetch program", "identifier", program.Identifier, "err", err)
			continue
		}
		req := program.Request()
		out = append(out, Document{
			Title:   page.Title,
			Program: &req,
			Records: page.Records,
		})
	}
	if len(out) == 0 && len(programs) > 0 {
		return nil, fmt.Errorf("none of the %d programs of %s could be fetched", len(programs), partition.ID)
	}
	return out, nil
}

// programs is the configured programs followed by those linked from the
// partition's index page. A link's text stands in for both the identifier
// and the label of the program.
func (s CurriculumSource) programs(ctx context.Context, partition PartitionConfig) ([]curriculum.Program, error) {
	programs := append([]curriculum.Program{}, partition.Programs...)
	if partition.Index == nil {
		return programs, nil
	}

	anchors, err := s.client.ListPrograms(ctx, partition.Index.Path, partition.Index.Selector)
	if err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}
	known := map[string]bool{}
	for _, p := range programs {
		known[p.Path] = true
	}
	for _, a := range anchors {
		if known[a.Href] {
			continue
		}
		known[a.Href] = true
		programs = append(programs, curriculum.Program{
			Identifier: a.Name,
			Label:      a.Name,
			Department: partition.Index.Department,
			Path:       a.Href,
		})
	}
	return programs, nil
}

// Sources picks a source per partition: exports first, then the curriculum
// fetcher.
type Sources struct {
	Files      FileSource
	Curriculum *CurriculumSource
}

func (s Sources) Fetch(ctx context.Context, partition PartitionConfig) ([]Document, error) {
	if partition.File != "" {
		return s.Files.Fetch(ctx, partition)
	}
	if (len(partition.Programs) > 0 || partition.Index != nil) && s.Curriculum != nil {
		return s.Curriculum.Fetch(ctx, partition)
	}
	return nil, fmt.Errorf("no source configured for partition %s", partition.ID)
}
