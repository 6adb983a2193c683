package records

import (
	"regexp"
	"strings"
)

// Class is the normalizer's verdict on a single record.
type Class int

const (
	Valid Class = iota
	HeaderLike
	Invalid
)

func (c Class) String() string {
	switch c {
	case Valid:
		return "valid"
	case HeaderLike:
		return "header-like"
	case Invalid:
		return "invalid"
	}
	return "unknown"
}

// DefaultSampleSize is how many excluded records of each class are kept
// around for diagnostics.
const DefaultSampleSize = 3

// column titles that show up as data when a table header row is scraped
// as if it were a regular row
var headerTokens = map[string]struct{}{
	"term":               {},
	"termcode":           {},
	"subject":            {},
	"subjectcode":        {},
	"code":               {},
	"coursecode":         {},
	"course":             {},
	"section":            {},
	"department":         {},
	"dept":               {},
	"programversionid":   {},
	"program":            {},
	"yearlevel":          {},
	"year":               {},
	"semester":           {},
	"sem":                {},
	"descriptivetitle":   {},
	"courseno":           {},
	"coursenumber":       {},
	"classcode":          {},
	"offeringdepartment": {},
}

// cell contents that mean "nothing here"
var fillerTokens = map[string]struct{}{
	"":     {},
	"-":    {},
	"--":   {},
	"n/a":  {},
	"na":   {},
	"none": {},
	"null": {},
	"tba":  {},
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

func headerToken(value string) bool {
	_, ok := headerTokens[nonAlnum.ReplaceAllString(strings.ToLower(value), "")]
	return ok
}

func fillerToken(value string) bool {
	_, ok := fillerTokens[strings.ToLower(strings.TrimSpace(value))]
	return ok
}

// Classify sorts a record into valid, header-like or invalid.
func (f Fields) Classify(r Record) Class {
	identifying := f.identifying()

	allEmpty := true
	for _, name := range identifying {
		value := r.Field(name)
		if headerToken(value) || strings.EqualFold(value, name) {
			return HeaderLike
		}
		if !fillerToken(value) {
			allEmpty = false
		}
	}
	if allEmpty {
		return HeaderLike
	}

	for _, name := range f.NaturalKey {
		if r.Field(name) == "" {
			return Invalid
		}
	}
	return Valid
}

func (f Fields) identifying() []string {
	out := append([]string{}, f.NaturalKey...)
	for _, name := range f.NaturalKey {
		if name == f.Code {
			return out
		}
	}
	if f.Code != "" {
		out = append(out, f.Code)
	}
	return out
}

// Report summarizes a normalization pass.
type Report struct {
	Total      int
	Valid      int
	HeaderLike int
	Invalid    int
	// Duplicates counts valid records that collapsed into an earlier record
	// with the same natural key.
	Duplicates int

	HeaderSamples  []Record
	InvalidSamples []Record
}

// Excluded is the number of records that did not make it through.
func (r Report) Excluded() int {
	return r.HeaderLike + r.Invalid + r.Duplicates
}

// Normalizer filters raw records down to the set that is safe to transmit.
type Normalizer struct {
	Fields     Fields
	SampleSize int
}

func NewNormalizer(fields Fields) Normalizer {
	return Normalizer{Fields: fields, SampleSize: DefaultSampleSize}
}

// Normalize returns the valid records, unique by natural key. When two
// records share a key the later one replaces the earlier in place, which is
// what the receiving upsert would end up storing anyway.
func (n Normalizer) Normalize(in []Record) ([]Record, Report) {
	sampleSize := n.SampleSize
	if sampleSize < 0 {
		sampleSize = 0
	}

	report := Report{Total: len(in)}
	out := make([]Record, 0, len(in))
	seen := make(map[string]int, len(in))

	for _, r := range in {
		switch n.Fields.Classify(r) {
		case HeaderLike:
			report.HeaderLike++
			if len(report.HeaderSamples) < sampleSize {
				report.HeaderSamples = append(report.HeaderSamples, r)
			}
			continue
		case Invalid:
			report.Invalid++
			if len(report.InvalidSamples) < sampleSize {
				report.InvalidSamples = append(report.InvalidSamples, r)
			}
			continue
		}

		key := n.Fields.Key(r)
		if idx, ok := seen[key]; ok {
			out[idx] = r
			report.Duplicates++
			continue
		}
		seen[key] = len(out)
		out = append(out, r)
	}

	report.Valid = len(out)
	return out, report
}
