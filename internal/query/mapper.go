package query

import "strings"

// Canonical filter names. The dashboard renders longer labels (for example
// "Reporting College"); the driver resolves these by substring match.
const (
	FilterCollege     = "College"
	FilterAwardLevel  = "Award Level"
	FilterCategory    = "STEM Category"
	FilterProgramType = "Program Type"
	FilterProgramName = "Program Name"
)

// Intent is a coarse classification of what the question wants back.
type Intent string

const (
	IntentCount   Intent = "count"
	IntentList    Intent = "list"
	IntentCompare Intent = "compare"
	IntentTrend   Intent = "trend"
	IntentSummary Intent = "summary"
)

// mapping binds question keywords to one filter value. Rules are checked in
// source order; within a filter name only the first hit applies.
type mapping struct {
	keywords []string
	filter   Filter
}

// catalog is the fixed keyword table. Extension is by appending rules; there
// is no precedence resolution beyond source order.
var catalog = []mapping{
	// Colleges.
	{[]string{"lehman"}, Filter{FilterCollege, "Lehman"}},
	{[]string{"baruch"}, Filter{FilterCollege, "Baruch"}},
	{[]string{"queens"}, Filter{FilterCollege, "Queens"}},
	{[]string{"brooklyn"}, Filter{FilterCollege, "Brooklyn"}},
	{[]string{"hunter"}, Filter{FilterCollege, "Hunter"}},
	{[]string{"city college"}, Filter{FilterCollege, "City College"}},
	{[]string{"bronx"}, Filter{FilterCollege, "Bronx"}},
	{[]string{"staten island"}, Filter{FilterCollege, "Staten Island"}},

	// Award levels.
	{[]string{"bachelor's", "bachelors", "bachelor"}, Filter{FilterAwardLevel, "Bachelor's"}},
	{[]string{"master's", "masters", "master"}, Filter{FilterAwardLevel, "Master's"}},
	{[]string{"associate's", "associates", "associate"}, Filter{FilterAwardLevel, "Associate"}},
	{[]string{"certificate", "certificates"}, Filter{FilterAwardLevel, "Certificate"}},
	{[]string{"doctoral", "doctorate", "doctorates", "phd"}, Filter{FilterAwardLevel, "Doctoral"}},

	// Categories.
	{[]string{"stem"}, Filter{FilterCategory, "STEM"}},
	{[]string{"business", "commerce"}, Filter{FilterCategory, "Business"}},
	{[]string{"engineering"}, Filter{FilterCategory, "Engineering"}},
	{[]string{"arts", "art"}, Filter{FilterCategory, "Arts"}},
	{[]string{"science", "sciences", "scientific"}, Filter{FilterCategory, "Science"}},
	{[]string{"education", "teaching"}, Filter{FilterCategory, "Education"}},
	{[]string{"medicine", "medical"}, Filter{FilterCategory, "Medicine"}},
	{[]string{"law", "legal"}, Filter{FilterCategory, "Law"}},
	{[]string{"technology", "tech"}, Filter{FilterCategory, "Technology"}},

	// Program types.
	{[]string{"online", "distance"}, Filter{FilterProgramType, "Online"}},
	{[]string{"on campus", "in person"}, Filter{FilterProgramType, "On Campus"}},

	// Program names.
	{[]string{"computer science"}, Filter{FilterProgramName, "Computer Science"}},
	{[]string{"nursing"}, Filter{FilterProgramName, "Nursing"}},
	{[]string{"psychology"}, Filter{FilterProgramName, "Psychology"}},
	{[]string{"biology"}, Filter{FilterProgramName, "Biology"}},
	{[]string{"accounting"}, Filter{FilterProgramName, "Accounting"}},
	{[]string{"math", "mathematics"}, Filter{FilterProgramName, "Mathematics"}},
	{[]string{"chemistry"}, Filter{FilterProgramName, "Chemistry"}},
}

// Map derives the ordered filter list for a question. Pure: unmatched text
// yields an empty (non-nil) list, matching is case-insensitive, and a filter
// name contributes at most once no matter how often its keywords appear.
// Keywords match on word boundaries, so "art" never fires inside "chart".
func Map(question string) []Filter {
	q := normalize(question)

	filters := make([]Filter, 0, 2)
	seen := make(map[string]bool)

	for _, rule := range catalog {
		if seen[rule.filter.Name] {
			continue
		}
		for _, kw := range rule.keywords {
			if strings.Contains(q, " "+kw+" ") {
				filters = append(filters, rule.filter)
				seen[rule.filter.Name] = true
				break
			}
		}
	}

	return filters
}

// normalize lowercases the question and reduces it to space-delimited words,
// keeping apostrophes so "bachelor's" survives as one token. The result is
// padded with spaces so every keyword lookup is a whole-word match.
func normalize(question string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '\'':
			return r
		default:
			return ' '
		}
	}, strings.ToLower(question))
	return " " + strings.Join(strings.Fields(mapped), " ") + " "
}

// ClassifyIntent picks the extraction strategy for a question.
func ClassifyIntent(question string) Intent {
	q := strings.ToLower(question)

	// Compare and trend cues win over count cues: "compare colleges by
	// program count" is a comparison, not a count.
	switch {
	case containsAny(q, "compare", "versus", " vs ", "difference"):
		return IntentCompare
	case containsAny(q, "trend", "over time", "change", "increase", "decrease"):
		return IntentTrend
	case containsAny(q, "how many", "count", "number of"):
		return IntentCount
	case containsAny(q, "show", "list", "what", "which"):
		return IntentList
	default:
		return IntentSummary
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
