package records

import "strings"

// DepartmentSummary holds the counts of a single department.
type DepartmentSummary struct {
	Count    int            `json:"count"`
	Prefixes map[string]int `json:"prefixes"`
}

// Summary is the shape of a whole run, sent ahead of the data so the
// receiver can sanity check a partial multi-chunk delivery.
type Summary struct {
	Total       int                          `json:"total"`
	Departments map[string]DepartmentSummary `json:"departments"`
}

// Prefix returns the leading token of a course/subject code.
//
// ex. "PEPC 101" -> "PEPC", "CS.101" -> "CS", "MATH/STAT 2" -> "MATH"
func Prefix(code string) string {
	code = strings.TrimSpace(code)
	idx := strings.IndexAny(code, " ./\t")
	if idx >= 0 {
		code = code[:idx]
	}
	return strings.ToUpper(code)
}

// ComputeAggregates counts records per department and per code prefix.
// It must be run over the complete normalized set, never a single chunk.
func ComputeAggregates(in []Record, fields Fields) Summary {
	summary := Summary{
		Total:       len(in),
		Departments: make(map[string]DepartmentSummary),
	}
	for _, r := range in {
		dept := strings.ToUpper(r.Field(fields.Department))
		d, ok := summary.Departments[dept]
		if !ok {
			d = DepartmentSummary{Prefixes: make(map[string]int)}
		}
		d.Count++
		if prefix := Prefix(r.Field(fields.Code)); prefix != "" {
			d.Prefixes[prefix]++
		}
		summary.Departments[dept] = d
	}
	return summary
}

// DepartmentCounts flattens a summary into department -> count.
func (s Summary) DepartmentCounts() map[string]int {
	out := make(map[string]int, len(s.Departments))
	for dept, d := range s.Departments {
		out[dept] = d.Count
	}
	return out
}
