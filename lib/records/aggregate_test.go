package records

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestPrefix(t *testing.T) {
	testCases := []struct {
		code     string
		expected string
	}{
		{code: "PEPC 101", expected: "PEPC"},
		{code: "cs.101", expected: "CS"},
		{code: "MATH/STAT 2", expected: "MATH"},
		{code: "  NSTP1  ", expected: "NSTP1"},
		{code: "", expected: ""},
	}
	for _, test := range testCases {
		require.Equal(t, test.expected, Prefix(test.code), test.code)
	}
}

func TestComputeAggregates(t *testing.T) {
	in := []Record{
		schedule("2025-1", "PEPC 1", "A", "PE"),
		schedule("2025-1", "PEPC 2", "A", "PE"),
		schedule("2025-1", "PE 3", "A", "pe"),
		schedule("2025-1", "CS.101", "A", "CS"),
	}

	summary := ComputeAggregates(in, ScheduleFields)
	expected := Summary{
		Total: 4,
		Departments: map[string]DepartmentSummary{
			"PE": {Count: 3, Prefixes: map[string]int{"PEPC": 2, "PE": 1}},
			"CS": {Count: 1, Prefixes: map[string]int{"CS": 1}},
		},
	}
	if diff := cmp.Diff(expected, summary); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, map[string]int{"PE": 3, "CS": 1}, summary.DepartmentCounts())
}
