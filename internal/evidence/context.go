package evidence

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/scope3-agent/backend/internal/agent"
)

// Bundle is the evidence of one turn: the serialized context and the ids taken
// from exactly the records that were serialized.
type Bundle struct {
	Records []agent.Record
	Context string
	IDs     []string
}

// NewBundle serializes records and extracts their identifiers. A single record is
// serialized as an object, several as an array, none as the empty string.
func NewBundle(records []agent.Record) (Bundle, error) {
	ctx, err := Serialize(records)
	if err != nil {
		return Bundle{}, err
	}

	return Bundle{
		Records: records,
		Context: ctx,
		IDs:     Dedupe(ExtractIDs(records)),
	}, nil
}

func (b Bundle) Empty() bool {
	return len(b.Records) == 0
}

func Serialize(records []agent.Record) (string, error) {
	var (
		data []byte
		err  error
	)

	switch len(records) {
	case 0:
		return "", nil
	case 1:
		data, err = json.Marshal(records[0])
	default:
		data, err = json.Marshal(records)
	}

	if err != nil {
		return "", fmt.Errorf("failed to serialize evidence: %w", err)
	}

	return string(data), nil
}

var (
	markupPattern     = regexp.MustCompile(`<[a-zA-Z/!][^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// CleanText strips markup left over from scraped disclosure reports and
// collapses whitespace. Plain text passes through trimmed.
func CleanText(s string) string {
	if markupPattern.MatchString(s) {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			doc.Find("script, style").Remove()
			s = doc.Text()
		}
	}

	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}
