package identity

import (
	"fmt"
	"regexp"
	"strconv"
)

// Version is a (year, ordinal) program revision such as 2025/1. The zero
// value means no version is known.
type Version struct {
	Year    int
	Ordinal int
}

func (v Version) Known() bool {
	return v.Year > 0
}

func (v Version) String() string {
	if !v.Known() {
		return "unversioned"
	}
	return fmt.Sprintf("%d/%d", v.Year, v.Ordinal)
}

var versionPatterns = []*regexp.Regexp{
	// 2025-1, 2025/1, 2025.1, 2025_1, never a school year like 2024-25
	regexp.MustCompile(`\b((?:19|20)\d{2})\s*[-/._]\s*([1-9])\b`),
	// 2025 rev 1, 2025 revision 2, 2025 v3, 2025 version 1
	regexp.MustCompile(`(?i)\b((?:19|20)\d{2})\s+(?:rev(?:ision)?|v(?:er(?:sion)?)?)\.?\s*(\d{1,2})\b`),
}

// ParseVersion finds the first explicit (year, ordinal) pair in s.
func ParseVersion(s string) (Version, bool) {
	for _, pattern := range versionPatterns {
		match := pattern.FindStringSubmatch(s)
		if match == nil {
			continue
		}
		year, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		ordinal, err := strconv.Atoi(match[2])
		if err != nil {
			continue
		}
		return Version{Year: year, Ordinal: ordinal}, true
	}
	return Version{}, false
}

// school years such as "SY 2024-25" or "2024-2025" name a period, not a
// revision
var schoolYear = regexp.MustCompile(`\b((?:19|20)\d{2})\s*[-/]\s*((?:19|20)?\d{2})\b`)

func stripVersions(s string) string {
	s = schoolYear.ReplaceAllString(s, " ")
	for _, pattern := range versionPatterns {
		s = pattern.ReplaceAllString(s, " ")
	}
	return s
}
