package identity

import "strings"

// Abbreviations maps identifier components to the words they stand for.
type Abbreviations map[string][]string

var DefaultAbbreviations = Abbreviations{
	"AB":     {"bachelor of arts"},
	"BA":     {"bachelor of arts", "business administration"},
	"BS":     {"bachelor of science"},
	"BSE":    {"bachelor of secondary education"},
	"BEE":    {"bachelor of elementary education"},
	"MA":     {"master of arts"},
	"MS":     {"master of science"},
	"PHD":    {"doctor of philosophy"},
	"ACCT":   {"accountancy", "accounting"},
	"AGRI":   {"agriculture"},
	"ARCH":   {"architecture"},
	"BIO":    {"biology"},
	"CE":     {"civil engineering"},
	"CHE":    {"chemical engineering"},
	"CHEM":   {"chemistry"},
	"COMM":   {"communication"},
	"CPE":    {"computer engineering"},
	"CS":     {"computer science"},
	"ECE":    {"electronics engineering"},
	"ECON":   {"economics"},
	"ED":     {"education"},
	"EE":     {"electrical engineering"},
	"ENG":    {"english"},
	"ENGG":   {"engineering"},
	"HRM":    {"hotel and restaurant management"},
	"IE":     {"industrial engineering"},
	"IS":     {"information systems"},
	"IT":     {"information technology"},
	"MATH":   {"mathematics"},
	"ME":     {"mechanical engineering"},
	"MT":     {"medical technology"},
	"NURS":   {"nursing"},
	"PE":     {"physical education"},
	"PHARM":  {"pharmacy"},
	"PHYS":   {"physics"},
	"POLSCI": {"political science"},
	"PSY":    {"psychology"},
	"PSYCH":  {"psychology"},
	"STAT":   {"statistics"},
	"TM":     {"tourism management"},
}

// Decompose splits a single identifier component into known
// abbreviations, preferring the longest known prefix at every step. It
// returns false if no full decomposition exists.
//
// ex. "BSCS" -> ["BS", "CS"], "BSPSYCH" -> ["BS", "PSYCH"]
func (a Abbreviations) Decompose(component string) ([]string, bool) {
	component = strings.ToUpper(component)
	if component == "" {
		return nil, true
	}
	for end := len(component); end > 0; end-- {
		head := component[:end]
		if _, ok := a[head]; !ok {
			continue
		}
		rest, ok := a.Decompose(component[end:])
		if ok {
			return append([]string{head}, rest...), true
		}
	}
	return nil, false
}
