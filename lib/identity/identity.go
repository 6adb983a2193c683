package identity

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"coursesync-backend/lib/textutil"

	"github.com/antzucaro/matchr"
)

// ErrIdentityMismatch discards a whole source document.
var ErrIdentityMismatch = errors.New("program identity mismatch")

const (
	identifierOverlap   = 0.4
	overlapOnly         = 0.7
	abbreviationCovered = 0.8
	abbreviationOverlap = 0.4
)

var stopwords = map[string]bool{
	"a":       true,
	"an":      true,
	"and":     true,
	"at":      true,
	"for":     true,
	"in":      true,
	"major":   true,
	"of":      true,
	"on":      true,
	"program": true,
	"the":     true,
	"to":      true,
	"with":    true,
}

// Request is what was asked of the source.
type Request struct {
	// Identifier is the program's code, ex. "BSCS" or "BS-CS-2025-1".
	Identifier string
	// Label is the program's human readable name.
	Label string
	// Version falls back to the version embedded in Identifier.
	Version Version
}

type Rule string

const (
	RuleNone              Rule = ""
	RuleVersionMismatch   Rule = "version-mismatch"
	RuleSubstring         Rule = "substring"
	RuleIdentifierOverlap Rule = "identifier-overlap"
	RuleOverlap           Rule = "overlap"
	RuleAbbreviation      Rule = "abbreviation"
)

type Verdict struct {
	Accepted bool
	// Rule is the rule that accepted, or RuleVersionMismatch.
	Rule         Rule
	Reason       string
	Overlap      float64
	TitleVersion Version
	// Similarity is the Jaro-Winkler similarity of label and title, it is
	// informational only.
	Similarity float64
}

// Validator holds the abbreviation table used by the last textual rule.
type Validator struct {
	abbreviations Abbreviations
}

func NewValidator(abbreviations Abbreviations) Validator {
	if abbreviations == nil {
		abbreviations = DefaultAbbreviations
	}
	return Validator{abbreviations: abbreviations}
}

// Match decides whether a returned document title belongs to the
// requested program.
func Match(req Request, title string) Verdict {
	return NewValidator(nil).Match(req, title)
}

func (v Validator) Match(req Request, title string) Verdict {
	var verdict Verdict

	wanted := req.Version
	if !wanted.Known() {
		wanted, _ = ParseVersion(req.Identifier)
	}
	titleVersion, hasVersion := ParseVersion(title)
	verdict.TitleVersion = titleVersion
	if wanted.Known() && hasVersion && titleVersion != wanted {
		verdict.Rule = RuleVersionMismatch
		verdict.Reason = fmt.Sprintf(
			"requested version %s but the document is %s",
			wanted, titleVersion,
		)
		return verdict
	}

	label := textutil.Normalize(stripVersions(req.Label))
	normTitle := textutil.Normalize(stripVersions(title))
	if label != "" && normTitle != "" {
		verdict.Similarity = matchr.JaroWinkler(label, normTitle, false)
	}

	titleTokens := tokenSet(textutil.Tokens(normTitle, stopwords))
	verdict.Overlap = overlap(textutil.Tokens(label, stopwords), titleTokens)

	accept := func(rule Rule, reason string) Verdict {
		verdict.Accepted = true
		verdict.Rule = rule
		verdict.Reason = reason
		return verdict
	}

	if label != "" && normTitle != "" &&
		(strings.Contains(normTitle, label) || strings.Contains(label, normTitle)) {
		return accept(RuleSubstring, "label and title contain one another")
	}

	base, named := namesIdentifier(req.Identifier, normTitle, titleTokens)
	if named && verdict.Overlap >= identifierOverlap {
		return accept(RuleIdentifierOverlap, fmt.Sprintf(
			"title names %q and shares %.0f%% of the label", base, verdict.Overlap*100,
		))
	}

	if verdict.Overlap >= overlapOnly {
		return accept(RuleOverlap, fmt.Sprintf(
			"title shares %.0f%% of the label", verdict.Overlap*100,
		))
	}

	covered := v.abbreviationCoverage(req.Identifier, titleTokens)
	if covered >= abbreviationCovered && verdict.Overlap >= abbreviationOverlap {
		return accept(RuleAbbreviation, fmt.Sprintf(
			"title spells out %.0f%% of the identifier", covered*100,
		))
	}

	verdict.Reason = fmt.Sprintf(
		"title %q does not match %q (overlap %.2f)",
		title, req.Label, verdict.Overlap,
	)
	return verdict
}

func tokenSet(tokens []string) map[string]bool {
	out := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		out[t] = true
	}
	return out
}

// overlap is the fraction of distinct label tokens found in the title.
func overlap(label []string, title map[string]bool) float64 {
	distinct := tokenSet(label)
	if len(distinct) == 0 {
		return 0
	}
	found := 0
	for t := range distinct {
		if title[t] {
			found++
		}
	}
	return float64(found) / float64(len(distinct))
}

// identifierComponents splits an identifier on anything that is not a
// letter, numeric parts (versions) are dropped.
//
// ex. "BS-CS-2025-1" -> ["BS", "CS"]
func identifierComponents(identifier string) []string {
	parts := strings.FieldsFunc(identifier, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for i, p := range parts {
		parts[i] = strings.ToUpper(p)
	}
	return parts
}

// namesIdentifier reports whether the title names the identifier without
// its version, either as one token ("BSCS") or as a run of tokens
// ("BS ME", "BS-ME-2020-1").
func namesIdentifier(identifier, normTitle string, titleTokens map[string]bool) (string, bool) {
	components := identifierComponents(identifier)
	if len(components) == 0 || normTitle == "" {
		return "", false
	}
	joined := strings.ToLower(strings.Join(components, ""))
	if titleTokens[joined] {
		return joined, true
	}
	spaced := textutil.Normalize(strings.Join(components, " "))
	if strings.Contains(" "+normTitle+" ", " "+spaced+" ") {
		return spaced, true
	}
	return joined, false
}

// abbreviationCoverage is the fraction of abbreviations in the identifier
// whose expansion is fully present in the title.
func (v Validator) abbreviationCoverage(identifier string, title map[string]bool) float64 {
	var abbrs []string
	for _, component := range identifierComponents(identifier) {
		parts, ok := v.abbreviations.Decompose(component)
		if !ok {
			// an unknown component can never be resolved
			abbrs = append(abbrs, component)
			continue
		}
		abbrs = append(abbrs, parts...)
	}
	if len(abbrs) == 0 {
		return 0
	}

	resolved := 0
	for _, abbr := range abbrs {
		for _, expansion := range v.abbreviations[abbr] {
			if covers(title, textutil.Tokens(expansion, stopwords)) {
				resolved++
				break
			}
		}
	}
	return float64(resolved) / float64(len(abbrs))
}

func covers(title map[string]bool, words []string) bool {
	for _, w := range words {
		if !title[w] {
			return false
		}
	}
	return len(words) > 0
}
