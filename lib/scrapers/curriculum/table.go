package curriculum

import (
	"regexp"
	"strings"

	"coursesync-backend/lib/htmlutil"
	"coursesync-backend/lib/records"
	"coursesync-backend/lib/textutil"

	"github.com/PuerkitoBio/goquery"
)

// header text (normalized) -> record field
var columnAliases = []struct {
	field    string
	matchers []string
}{
	{field: "course_code", matchers: []string{"coursecode", "courseno", "subjectcode", "code"}},
	{field: "course_title", matchers: []string{"descriptivetitle", "coursetitle", "description", "title"}},
	{field: "units", matchers: []string{"units", "credits", "unit"}},
	{field: "year_level", matchers: []string{"yearlevel", "year"}},
	{field: "semester", matchers: []string{"semester", "sem", "term"}},
	{field: "prerequisites", matchers: []string{"prerequisite", "prereq"}},
}

func columnField(header string) string {
	for _, alias := range columnAliases {
		if textutil.MatchName(header, alias.matchers) {
			return alias.field
		}
	}
	return ""
}

var ordinals = map[string]string{
	"first": "1", "1st": "1",
	"second": "2", "2nd": "2",
	"third": "3", "3rd": "3",
	"fourth": "4", "4th": "4",
	"fifth": "5", "5th": "5",
}

var yearHeading = regexp.MustCompile(`(?i)\b(first|second|third|fourth|fifth|1st|2nd|3rd|4th|5th)\s+year\b`)
var semesterHeading = regexp.MustCompile(`(?i)\b(first|second|third|1st|2nd|3rd)\s+(?:semester|sem|term|trimester)\b|\b(summer|midyear)\b`)

// parseHeading reads "First Year - Second Semester" style section rows.
func parseHeading(text string) (year, semester string) {
	if m := yearHeading.FindStringSubmatch(text); m != nil {
		year = ordinals[strings.ToLower(m[1])]
	}
	if m := semesterHeading.FindStringSubmatch(text); m != nil {
		if m[1] != "" {
			semester = ordinals[strings.ToLower(m[1])]
		} else {
			semester = "summer"
		}
	}
	return year, semester
}

// ParseTable reads the first table with a recognizable course code column.
// Single cell rows are treated as year/semester section headings.
func ParseTable(doc *goquery.Document, programVersionID, department string) []records.Record {
	var out []records.Record
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		var columns []string
		year, semester := "", ""
		hasCode := false

		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("th, td")
			if cells.Length() == 0 {
				return
			}

			if columns == nil && row.Find("th").Length() > 1 {
				cells.Each(func(_ int, cell *goquery.Selection) {
					field := columnField(htmlutil.SelectionText(cell))
					if field == "course_code" {
						hasCode = true
					}
					columns = append(columns, field)
				})
				return
			}

			if cells.Length() == 1 {
				y, s := parseHeading(htmlutil.SelectionText(cells))
				if y != "" {
					year = y
				}
				if s != "" {
					semester = s
				}
				return
			}
			if !hasCode {
				return
			}

			record := records.Record{
				"program_version_id": programVersionID,
				"department":         department,
				"year_level":         year,
				"semester":           semester,
			}
			cells.Each(func(i int, cell *goquery.Selection) {
				if i >= len(columns) || columns[i] == "" {
					return
				}
				record[columns[i]] = htmlutil.SelectionText(cell)
			})
			out = append(out, record)
		})

		// keep looking only if this table was not a curriculum table
		return !hasCode
	})
	return out
}
