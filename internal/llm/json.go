package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/scope3-agent/backend/internal/agent"
)

var fencedJSONPattern = regexp.MustCompile("(?s)```(\\w*)\\s*\\n(.+?)\\n?```")

type candidatePayload struct {
	Query  string          `json:"query"`
	Cypher string          `json:"cypher"`
	Errors json.RawMessage `json:"errors"`
}

// ParseCandidate decodes {"cypher"|"query": string, "errors": [...]} from a
// model reply. The reply may be fenced or surrounded by prose. Errors may be
// a list or a single string; blank entries and "N/A" are dropped, and the
// result is never nil.
func ParseCandidate(content string) (agent.QueryCandidate, error) {
	raw, err := ExtractJSON(content)
	if err != nil {
		return agent.QueryCandidate{}, err
	}

	var p candidatePayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return agent.QueryCandidate{}, err
	}

	query := p.Cypher
	if strings.TrimSpace(query) == "" {
		query = p.Query
	}

	return agent.QueryCandidate{
		Query:  strings.TrimSpace(query),
		Errors: normalizeErrors(p.Errors),
	}, nil
}

func normalizeErrors(raw json.RawMessage) []string {
	out := []string{}
	if len(raw) == 0 {
		return out
	}

	var list []any
	if err := json.Unmarshal(raw, &list); err != nil {
		var single string
		if json.Unmarshal(raw, &single) == nil {
			list = []any{single}
		}
	}

	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" || strings.EqualFold(s, "N/A") || strings.EqualFold(s, "none") {
			continue
		}
		out = append(out, s)
	}
	return out
}

// ExtractJSON returns the first JSON object in a reply: a json or untagged
// fenced block wins, otherwise the first balanced {...} in the text.
func ExtractJSON(content string) (string, error) {
	for _, m := range fencedJSONPattern.FindAllStringSubmatch(content, -1) {
		lang, body := strings.ToLower(m[1]), strings.TrimSpace(m[2])
		if (lang == "" || lang == "json") && strings.HasPrefix(body, "{") && json.Valid([]byte(body)) {
			return body, nil
		}
	}

	for start := strings.Index(content, "{"); start >= 0; {
		if obj := balancedObject(content[start:]); obj != "" && json.Valid([]byte(obj)) {
			return obj, nil
		}
		next := strings.Index(content[start+1:], "{")
		if next < 0 {
			break
		}
		start += next + 1
	}

	return "", errors.New("no JSON object found in model reply")
}

func balancedObject(s string) string {
	depth := 0
	inString, escaped := false, false

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}
