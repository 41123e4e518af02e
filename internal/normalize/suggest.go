package normalize

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

var synonyms = []struct {
	field string
	names []string
}{
	{"date", []string{"date", "transaction date", "txn date", "posted date", "value date", "booking date"}},
	{"amount", []string{"amount", "amt", "value", "sum", "total"}},
	{"description", []string{"description", "details", "narrative", "memo", "payee", "particulars"}},
	{"type", []string{"type", "direction", "dr cr", "debit credit", "transaction type"}},
	{"category", []string{"category", "group", "class"}},
	{"account", []string{"account", "account name", "wallet", "source"}},
	{"reference", []string{"reference", "ref", "transaction id", "id", "receipt", "code"}},
}

// maxSuggestDistance is the largest relative edit distance still accepted.
const maxSuggestDistance = 0.34

// Suggest proposes a mapping for headers by fuzzy-matching them against
// common column names. Each header is used at most once; fields are filled
// in the order of synonyms, so the mandatory ones win contested columns.
func Suggest(headers []string) Mapping {
	used := make(map[string]bool, len(headers))
	picked := make(map[string]string, len(synonyms))
	for _, s := range synonyms {
		best, bestScore := "", maxSuggestDistance
		for _, h := range headers {
			if used[h] {
				continue
			}
			key := simplify(h)
			if key == "" {
				continue
			}
			for _, name := range s.names {
				if score := distance(key, simplify(name)); score < bestScore {
					best, bestScore = h, score
				}
			}
		}
		if best != "" {
			used[best] = true
			picked[s.field] = best
		}
	}
	return Mapping{
		Date:        picked["date"],
		Amount:      picked["amount"],
		Description: picked["description"],
		Type:        picked["type"],
		Category:    picked["category"],
		Account:     picked["account"],
		Reference:   picked["reference"],
	}
}

func distance(a, b string) float64 {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	return float64(levenshtein.ComputeDistance(a, b)) / float64(n)
}

func simplify(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '_' || r == '-' || r == '/':
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
