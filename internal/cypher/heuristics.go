package cypher

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/scope3-agent/backend/internal/agent"
)

type IntentKind int

const (
	IntentGeneral IntentKind = iota
	IntentCount
)

func (k IntentKind) String() string {
	if k == IntentCount {
		return "count"
	}
	return "general"
}

// Intent is what the keyword heuristics read out of a question.
type Intent struct {
	Kind       IntentKind
	CountLabel string
	Topic      string
	Year       int
	MultiYear  bool
	Emissions  bool
	Documents  bool
	// Quantity is set for "what were", "how much" and similar phrasings.
	Quantity bool
}

// NeedsEvidence is true when the question asks about a period, an emissions
// topic or source passages.
func (i Intent) NeedsEvidence() bool {
	return i.Year != 0 || i.Emissions || i.Documents
}

// AsksValue is true when the question wants a figure: it names a year or is
// phrased as a quantity question.
func (i Intent) AsksValue() bool {
	return i.Year != 0 || i.Quantity
}

var (
	countPattern    = regexp.MustCompile(`(?i)\b(how\s+many|count\s+of|number\s+of)\b`)
	yearPattern     = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	emissionPattern = regexp.MustCompile(`(?i)emission`)
	documentPattern = regexp.MustCompile(`(?i)\b(chunks?|documents?|passages?|excerpts?)\b`)
	quantityPattern = regexp.MustCompile(`(?i)\b(what\s+(were|was|are|is)|how\s+(much|high|large)|total|amount)\b`)
)

type labelPattern struct {
	label string
	re    *regexp.Regexp
}

// Analyzer classifies questions. It is safe for concurrent use.
type Analyzer struct {
	topics    []labelPattern
	countable []string
}

func NewAnalyzer(v Vocabulary) *Analyzer {
	a := &Analyzer{}
	for _, t := range v.TopicKeywords {
		if t = strings.TrimSpace(t); t != "" {
			a.topics = append(a.topics, labelPattern{label: t, re: wordPattern(t)})
		}
	}
	for _, l := range v.CountableLabels {
		if l = strings.TrimSpace(l); l != "" {
			a.countable = append(a.countable, l)
		}
	}
	return a
}

func (a *Analyzer) Analyze(question string) Intent {
	in := Intent{
		Kind:      IntentGeneral,
		Emissions: emissionPattern.MatchString(question),
		Documents: documentPattern.MatchString(question),
		Quantity:  quantityPattern.MatchString(question),
	}

	for _, m := range yearPattern.FindAllString(question, -1) {
		y, _ := strconv.Atoi(m)
		switch {
		case in.Year == 0:
			in.Year = y
		case y != in.Year:
			in.MultiYear = true
		}
	}

	for _, t := range a.topics {
		if t.re.MatchString(question) {
			in.Topic = t.label
			in.Emissions = true
			break
		}
	}

	if countPattern.MatchString(question) {
		// "emission scopes" and "Emissionscopes" both name the Emissionscope label.
		squashed := strings.ToLower(strings.Join(strings.Fields(question), ""))
		for _, l := range a.countable {
			if strings.Contains(squashed, strings.ToLower(l)) {
				in.Kind = IntentCount
				in.CountLabel = l
				break
			}
		}
	}
	return in
}

func wordPattern(term string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + strings.Join(strings.Fields(regexp.QuoteMeta(term)), `\s+`) + `\b`)
}

// ExtractMeasurement finds the first decimal number directly followed by unit.
func ExtractMeasurement(text, unit string) (string, bool) {
	if unit == "" {
		return "", false
	}
	re := regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*` + regexp.QuoteMeta(unit))
	m := re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// SelectRow picks the row for year, or the newest row when year is zero or
// absent from rows. It returns false only for an empty result.
func SelectRow(rows []agent.Record, year int) (agent.Record, bool) {
	if len(rows) == 0 {
		return nil, false
	}

	if year != 0 {
		for _, r := range rows {
			if y, ok := toInt(r["year"]); ok && y == year {
				return r, true
			}
		}
	}

	best, bestYear := rows[0], -1
	for _, r := range rows {
		if y, ok := toInt(r["year"]); ok && y > bestYear {
			best, bestYear = r, y
		}
	}
	return best, true
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float32:
		return int(n), float32(int(n)) == n
	case float64:
		return int(n), float64(int(n)) == n
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}

func formatNumber(v any) (string, bool) {
	switch n := v.(type) {
	case int, int32, int64:
		i, _ := toInt(n)
		return strconv.Itoa(i), true
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64), true
	case string:
		s := strings.TrimSpace(n)
		if _, err := strconv.ParseFloat(s, 64); err == nil {
			return s, true
		}
	}
	return "", false
}
