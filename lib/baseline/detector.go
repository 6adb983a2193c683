package baseline

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

const (
	DefaultThresholdPercent       = 5.0
	DefaultDepartmentDropFraction = 0.5
)

// CriticalKey names a department (optionally narrowed to one code prefix and
// one partition) that must never silently drop to zero. An empty field
// matches anything.
type CriticalKey struct {
	Partition  string `json:"partition"`
	Department string `json:"department"`
	Prefix     string `json:"prefix"`
}

// DefaultCriticalKeys watches the physical education course family whose
// disappearance motivated the guard.
var DefaultCriticalKeys = []CriticalKey{{Department: "PE", Prefix: "PEPC"}}

type Config struct {
	// ThresholdPercent defaults to 5, it is clamped to [0, 100].
	ThresholdPercent *float64 `json:"threshold_percent"`
	// DepartmentDropFraction defaults to 0.5, it is clamped to [0, 1].
	DepartmentDropFraction *float64      `json:"department_drop_fraction"`
	CriticalKeys           []CriticalKey `json:"critical_keys"`
	// CriticalDepartments elevates the severity of department drops.
	CriticalDepartments []string `json:"critical_departments"`
	// Strict turns regressions and critical findings into job failures.
	Strict bool `json:"strict"`
	// BaselineRequired refuses to deliver a partition that has no
	// baseline yet, in strict mode.
	BaselineRequired bool `json:"baseline_required"`
}

type Severity int

const (
	Warning Severity = iota
	Critical
)

func (s Severity) String() string {
	if s == Critical {
		return "critical"
	}
	return "warning"
}

type FindingKind string

const (
	ZeroDrop           FindingKind = "zero-drop"
	DepartmentDrop     FindingKind = "department-drop"
	DepartmentVanished FindingKind = "department-vanished"
)

type Finding struct {
	Kind       FindingKind
	Severity   Severity
	Department string
	Prefix     string
	Previous   int
	Current    int
	Message    string
}

type Comparison struct {
	PartitionID   string
	HasPrevious   bool
	Previous      int
	Current       int
	Diff          int
	PercentChange float64
	IsRegression  bool
	Message       string
	Findings      []Finding
}

// Critical reports whether any finding is critical.
func (c Comparison) Critical() bool {
	for _, f := range c.Findings {
		if f.Severity == Critical {
			return true
		}
	}
	return false
}

type Detector struct {
	threshold       float64
	dropFraction    float64
	criticalKeys    []CriticalKey
	criticalDepts   map[string]bool
	strict          bool
	requireBaseline bool
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func NewDetector(config Config) Detector {
	threshold := DefaultThresholdPercent
	if config.ThresholdPercent != nil {
		threshold = clamp(*config.ThresholdPercent, 0, 100)
	}
	dropFraction := DefaultDepartmentDropFraction
	if config.DepartmentDropFraction != nil {
		dropFraction = clamp(*config.DepartmentDropFraction, 0, 1)
	}
	keys := config.CriticalKeys
	if keys == nil {
		keys = DefaultCriticalKeys
	}
	criticalDepts := make(map[string]bool, len(config.CriticalDepartments))
	for _, d := range config.CriticalDepartments {
		criticalDepts[strings.ToUpper(strings.TrimSpace(d))] = true
	}
	return Detector{
		threshold:       threshold,
		dropFraction:    dropFraction,
		criticalKeys:    keys,
		criticalDepts:   criticalDepts,
		strict:          config.Strict,
		requireBaseline: config.BaselineRequired,
	}
}

func (d Detector) Threshold() float64 {
	return d.threshold
}

func (d Detector) Strict() bool {
	return d.strict
}

// Compare checks the current run against the previous baseline, previous
// is nil on a partition's first run.
func (d Detector) Compare(previous *Snapshot, current Snapshot) Comparison {
	c := Comparison{
		PartitionID: current.PartitionID,
		Current:     current.Total,
	}
	if previous == nil {
		c.Message = fmt.Sprintf("no baseline for %s, recording %d rows", current.PartitionID, current.Total)
		return c
	}

	c.HasPrevious = true
	c.Previous = previous.Total
	c.Diff = current.Total - previous.Total
	if previous.Total > 0 {
		c.PercentChange = float64(c.Diff) / float64(previous.Total) * 100
	}
	c.IsRegression = c.Diff < 0 && math.Abs(c.PercentChange) > d.threshold

	switch {
	case c.IsRegression:
		c.Message = fmt.Sprintf(
			"%s dropped from %d to %d rows (%+.2f%%), beyond the %.2f%% threshold",
			current.PartitionID, previous.Total, current.Total, c.PercentChange, d.threshold,
		)
	default:
		c.Message = fmt.Sprintf(
			"%s went from %d to %d rows (%+.2f%%)",
			current.PartitionID, previous.Total, current.Total, c.PercentChange,
		)
	}

	c.Findings = append(c.Findings, d.zeroDrops(*previous, current)...)
	c.Findings = append(c.Findings, d.departmentDrops(*previous, current)...)
	return c
}

func (k CriticalKey) matches(partition, dept, prefix string) bool {
	if k.Partition != "" && !strings.EqualFold(k.Partition, partition) {
		return false
	}
	if !strings.EqualFold(k.Department, dept) {
		return false
	}
	return k.Prefix == "" || strings.EqualFold(k.Prefix, prefix)
}

// zeroDrops flags critical prefixes that had rows and now have none, no
// matter how stable the totals look.
func (d Detector) zeroDrops(previous, current Snapshot) []Finding {
	var out []Finding
	for _, dept := range sortedKeys(previous.PerPrefixCounts) {
		for _, prefix := range sortedKeys(previous.PerPrefixCounts[dept]) {
			before := previous.PerPrefixCounts[dept][prefix]
			if before <= 0 || current.PerPrefixCounts[dept][prefix] != 0 {
				continue
			}
			critical := slices.ContainsFunc(d.criticalKeys, func(k CriticalKey) bool {
				return k.matches(current.PartitionID, dept, prefix)
			})
			if !critical {
				continue
			}
			out = append(out, Finding{
				Kind:       ZeroDrop,
				Severity:   Critical,
				Department: dept,
				Prefix:     prefix,
				Previous:   before,
				Current:    0,
				Message: fmt.Sprintf(
					"%s/%s dropped from %d rows to zero",
					dept, prefix, before,
				),
			})
		}
	}
	return out
}

func (d Detector) departmentDrops(previous, current Snapshot) []Finding {
	var out []Finding
	for _, dept := range sortedKeys(previous.PerDepartmentCounts) {
		before := previous.PerDepartmentCounts[dept]
		if before <= 0 {
			continue
		}
		after := current.PerDepartmentCounts[dept]
		severity := Warning
		if d.criticalDepts[strings.ToUpper(dept)] {
			severity = Critical
		}

		if after == 0 {
			out = append(out, Finding{
				Kind:       DepartmentVanished,
				Severity:   severity,
				Department: dept,
				Previous:   before,
				Message:    fmt.Sprintf("department %s vanished (had %d rows)", dept, before),
			})
			continue
		}
		drop := float64(before-after) / float64(before)
		if drop <= d.dropFraction {
			continue
		}
		out = append(out, Finding{
			Kind:       DepartmentDrop,
			Severity:   severity,
			Department: dept,
			Previous:   before,
			Current:    after,
			Message: fmt.Sprintf(
				"department %s dropped from %d to %d rows (-%.0f%%)",
				dept, before, after, drop*100,
			),
		})
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
