package records

import (
	"fmt"
	"strconv"
	"strings"
)

// DataType names the kind of tabular data being delivered.
type DataType string

const (
	Schedules DataType = "schedules"
	Curricula DataType = "curricula"
)

// Record is a single flat row harvested from the source.
type Record map[string]any

// Field returns the trimmed string form of a field, or "" if it is absent.
func (r Record) Field(name string) string {
	v, ok := r[name]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// Fields describes which columns of a record identify it.
type Fields struct {
	// NaturalKey are the columns that uniquely identify a record within
	// one partition's delivered set.
	NaturalKey []string
	// Department is the column aggregates are grouped by.
	Department string
	// Code is the column whose leading token is the aggregate prefix.
	Code string
}

var ScheduleFields = Fields{
	NaturalKey: []string{"term_code", "subject_code", "section", "department"},
	Department: "department",
	Code:       "subject_code",
}

var CurriculumFields = Fields{
	NaturalKey: []string{"program_version_id", "course_code", "year_level", "semester"},
	Department: "department",
	Code:       "course_code",
}

// FieldsFor returns the field layout of a data type.
func FieldsFor(t DataType) (Fields, error) {
	switch t {
	case Schedules:
		return ScheduleFields, nil
	case Curricula:
		return CurriculumFields, nil
	}
	return Fields{}, fmt.Errorf("unknown data type %q", t)
}

// Key is the joined natural key of a record.
func (f Fields) Key(r Record) string {
	parts := make([]string, len(f.NaturalKey))
	for i, name := range f.NaturalKey {
		parts[i] = strings.ToUpper(r.Field(name))
	}
	return strings.Join(parts, "\x1f")
}
