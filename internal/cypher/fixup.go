package cypher

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	fencePattern  = regexp.MustCompile("(?s)^\\s*```[A-Za-z]*\\s*\\n?(.*?)\\s*```\\s*$")
	idCallPattern = regexp.MustCompile(`(?i)(^|[^\w.$])id\(`)
	// exists(n.prop) only; the pattern form exists((a)-->(b)) is left alone.
	existsPattern = regexp.MustCompile(`(?i)\bexists\(\s*([A-Za-z_]\w*(?:\.[A-Za-z_]\w*|\.` + "`[^`]+`" + `)+)\s*\)`)
	limitPattern  = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+|\$\w+)`)
	limitKeyword  = regexp.MustCompile(`(?i)\bLIMIT\b`)
	returnPattern = regexp.MustCompile(`(?i)\bRETURN\b`)
	unionPattern  = regexp.MustCompile(`(?i)\bUNION\b`)
)

// Sanitize applies every deterministic fixup and bounds the result to rowCap.
// It is idempotent.
func Sanitize(query string, rowCap int) string {
	q := StripFences(query)
	q = ReplaceInternalIDs(q)
	q = ReplaceExists(q)
	return EnforceLimit(q, rowCap)
}

// StripFences removes a surrounding markdown code fence.
func StripFences(query string) string {
	if m := fencePattern.FindStringSubmatch(query); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(query)
}

// ReplaceInternalIDs rewrites the removed id() function to elementId().
func ReplaceInternalIDs(query string) string {
	return idCallPattern.ReplaceAllString(query, "${1}elementId(")
}

// ReplaceExists rewrites exists(x.prop) to x.prop IS NOT NULL.
func ReplaceExists(query string) string {
	return existsPattern.ReplaceAllString(query, "$1 IS NOT NULL")
}

// EnforceLimit lowers any LIMIT above rowCap and appends one when the final
// RETURN is unbounded. A top-level UNION is wrapped in a CALL subquery so the
// cap holds for the combined rows.
func EnforceLimit(query string, rowCap int) string {
	q := strings.TrimRight(strings.TrimSpace(query), "; \t\n")
	if rowCap <= 0 || q == "" {
		return q
	}

	q = limitPattern.ReplaceAllStringFunc(q, func(m string) string {
		arg := limitPattern.FindStringSubmatch(m)[1]
		if n, err := strconv.Atoi(arg); err == nil && n >= 0 && n <= rowCap {
			return m
		}
		return fmt.Sprintf("LIMIT %d", rowCap)
	})

	if topLevelUnion(q) {
		return fmt.Sprintf("CALL {\n%s\n}\nRETURN *\nLIMIT %d", q, rowCap)
	}
	if lastIndex(limitKeyword, q) < lastIndex(returnPattern, q) {
		q = fmt.Sprintf("%s\nLIMIT %d", q, rowCap)
	}
	return q
}

// topLevelUnion reports a UNION outside any braces. Quoted strings are skipped.
func topLevelUnion(q string) bool {
	for _, loc := range unionPattern.FindAllStringIndex(q, -1) {
		if depth, quoted := braceDepth(q[:loc[0]]); depth == 0 && !quoted {
			return true
		}
	}
	return false
}

func braceDepth(s string) (int, bool) {
	depth := 0
	var quote rune
	for _, c := range s {
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == '{':
			depth++
		case c == '}':
			depth--
		}
	}
	return depth, quote != 0
}

// LimitOf returns the last LIMIT argument of a query.
func LimitOf(query string) (int, bool) {
	all := limitPattern.FindAllStringSubmatch(query, -1)
	if len(all) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(all[len(all)-1][1])
	return n, err == nil
}

func lastIndex(re *regexp.Regexp, s string) int {
	locs := re.FindAllStringIndex(s, -1)
	if len(locs) == 0 {
		return -1
	}
	return locs[len(locs)-1][0]
}
