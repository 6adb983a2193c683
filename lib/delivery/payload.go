package delivery

import "coursesync-backend/lib/records"

// Metadata rides along every chunk so the receiver can place it within
// the run.
type Metadata struct {
	PartitionID string `json:"partition_id"`
	Source      string `json:"source,omitempty"`
	RunID       string `json:"run_id"`
	RecordCount int    `json:"record_count"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	// ReplaceExisting is nil for data types without replace semantics.
	ReplaceExisting *bool `json:"replace_existing,omitempty"`
	// TermAggregates is only set on the first chunk of a multi-chunk run.
	TermAggregates  *records.Summary `json:"term_aggregates,omitempty"`
	IsChunkedUpload bool             `json:"is_chunked_upload,omitempty"`
}

// Payload is the JSON body posted to the ingestion endpoint.
type Payload struct {
	DataType records.DataType `json:"data_type"`
	Records  []records.Record `json:"records"`
	Metadata Metadata         `json:"metadata"`
}

// Ack is the optional counts echo of a successful ingestion.
type Ack struct {
	Inserted int `json:"inserted"`
	Total    int `json:"total"`
}

// buildPayload tags chunk `index` of a run. Aggregates describe the whole
// run and are only worth sending once, on the first chunk.
func buildPayload(req Request, runID string, index, total int, batch []records.Record) Payload {
	meta := Metadata{
		PartitionID: req.PartitionID,
		Source:      req.Source,
		RunID:       runID,
		RecordCount: len(batch),
		ChunkIndex:  index,
		TotalChunks: total,
	}
	if index == 0 && total > 1 {
		aggregates := req.Aggregates
		meta.TermAggregates = &aggregates
	}
	if index > 0 {
		meta.IsChunkedUpload = true
	}
	return Payload{
		DataType: req.DataType,
		Records:  batch,
		Metadata: meta,
	}
}

// replaceSemantics reports whether a data type carries the replace flag.
func replaceSemantics(t records.DataType) bool {
	return t == records.Schedules
}
