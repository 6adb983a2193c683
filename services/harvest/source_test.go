package harvest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"coursesync-backend/lib/records"
	"coursesync-backend/lib/scrapers/curriculum"

	"github.com/stretchr/testify/require"
)

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	bare := filepath.Join(dir, "bare.json")
	writeFile(t, bare, `[
		{"term_code": "2025-1", "subject_code": "CS 101", "section": "A", "department": "CS"}
	]`)
	docs, err := FileSource{}.Fetch(ctx, PartitionConfig{ID: "2025-1", File: bare})
	if err != nil {
		t.Fatal(err)
	}
	require.Len(t, docs, 1)
	require.Nil(t, docs[0].Program)
	require.Equal(t, "CS 101", docs[0].Records[0].Field("subject_code"))

	export := filepath.Join(dir, "export.json")
	writeFile(t, export, `{"documents": [
		{
			"title": "BS Computer Science 2025-1",
			"program": {"Identifier": "BSCS-2025-1", "Label": "BS Computer Science"},
			"records": [{"program_version_id": "BSCS-2025-1", "course_code": "CS 101", "year_level": 1, "semester": 1}]
		}
	]}`)
	docs, err = FileSource{}.Fetch(ctx, PartitionConfig{ID: "BSCS", File: export})
	if err != nil {
		t.Fatal(err)
	}
	require.Len(t, docs, 1)
	require.NotNil(t, docs[0].Program)
	require.Equal(t, "BSCS-2025-1", docs[0].Program.Identifier)
	require.Equal(t, "1", docs[0].Records[0].Field("year_level"))

	broken := filepath.Join(dir, "broken.json")
	writeFile(t, broken, `{"documents": `)
	_, err = FileSource{}.Fetch(ctx, PartitionConfig{ID: "x", File: broken})
	require.Error(t, err)
}

func TestFileSourceRejectsWrongShapes(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	testCases := []struct {
		name     string
		contents string
		expected error
	}{
		{name: "object without documents", contents: `{"rows": [{"term_code": "2025-1"}]}`, expected: ErrNoDocuments},
		{name: "empty documents", contents: `{"documents": []}`, expected: ErrNoDocuments},
		{name: "array of scalars", contents: `[1, 2, 3]`},
		{name: "scalar", contents: `42`},
	}
	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			path := filepath.Join(dir, "export.json")
			writeFile(t, path, test.contents)
			docs, err := FileSource{}.Fetch(ctx, PartitionConfig{ID: "x", File: path})
			require.Error(t, err)
			require.Nil(t, docs)
			if test.expected != nil {
				require.ErrorIs(t, err, test.expected)
			}
		})
	}

	// the array error is the one reported, not a complaint about objects
	path := filepath.Join(dir, "rows.json")
	writeFile(t, path, `[{"term_code": 1}, "oops"]`)
	_, err := FileSource{}.Fetch(ctx, PartitionConfig{ID: "x", File: path})
	require.Error(t, err)
	require.NotContains(t, err.Error(), "into Go value of type struct")
}

func TestSourcesWithoutSource(t *testing.T) {
	_, err := Sources{}.Fetch(context.Background(), PartitionConfig{ID: "x", DataType: records.Schedules})
	require.Error(t, err)
}

func TestCurriculumSourceIndex(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/programs", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<ul>
			<li><a href="/programs/bscs">Bachelor of Science in Computer Science</a></li>
			<li><a href="/programs/gone">Bachelor of Arts in History</a></li>
		</ul>`))
	})
	mux.HandleFunc("/programs/bscs", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<h1>Bachelor of Science in Computer Science</h1>
		<table>
			<tr><th>Course Code</th><th>Descriptive Title</th><th>Units</th></tr>
			<tr><td colspan="3">First Year - First Semester</td></tr>
			<tr><td>CS 101</td><td>Introduction to Computing</td><td>3</td></tr>
		</table>`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := curriculum.NewClient(curriculum.ClientOptions{BaseUrl: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	source := NewCurriculumSource(client)

	docs, err := Sources{Curriculum: &source}.Fetch(context.Background(), PartitionConfig{
		ID:       "CCS",
		DataType: records.Curricula,
		Index:    &ProgramIndex{Path: "/programs", Selector: "li a", Department: "CCS"},
	})
	if err != nil {
		t.Fatal(err)
	}
	// the unreachable program is skipped
	require.Len(t, docs, 1)
	require.Equal(t, "Bachelor of Science in Computer Science", docs[0].Title)
	require.NotNil(t, docs[0].Program)
	require.Len(t, docs[0].Records, 1)
	require.Equal(t, "CS 101", docs[0].Records[0].Field("course_code"))
}
