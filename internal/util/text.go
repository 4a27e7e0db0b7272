package util

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var quoteStripper = strings.NewReplacer(`\"`, "", `"`, "")

func scrubber() transform.Transformer {
	return transform.Chain(
		runes.ReplaceIllFormed(),
		runes.Remove(runes.Predicate(func(r rune) bool {
			return r == utf8.RuneError || r == '\uFEFF' || r == 0
		})),
		norm.NFC,
	)
}

// CleanLine scrubs one raw log line: invalid byte sequences and BOMs are
// dropped, escaped and bare double quotes are removed, and surrounding
// whitespace is trimmed. It never fails.
func CleanLine(raw string) string {
	s, _, err := transform.String(scrubber(), raw)
	if err != nil {
		s = strings.ToValidUTF8(raw, "")
	}
	s = quoteStripper.Replace(s)
	return strings.TrimSpace(s)
}

// SplitFields splits a cleaned line on commas and trims each field.
func SplitFields(line string) []string {
	if strings.TrimSpace(line) == "" {
		return nil
	}
	parts := strings.Split(line, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// ContainsToken reports whether token occurs in line bounded by a field
// separator, whitespace or the line edges, so "WQM,147" does not match
// inside "WQM,1470".
func ContainsToken(line, token string) bool {
	if token == "" {
		return false
	}
	from := 0
	for {
		i := strings.Index(line[from:], token)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(token)
		if isBoundary(line, start-1) && isBoundary(line, end) {
			return true
		}
		from = start + 1
	}
}

func isBoundary(line string, pos int) bool {
	if pos < 0 || pos >= len(line) {
		return true
	}
	switch line[pos] {
	case ',', ' ', '\t', ';':
		return true
	}
	return false
}

func DiceCoefficient(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	pairs := func(s string) []string {
		r := []rune(s)
		if len(r) < 2 {
			return nil
		}
		out := make([]string, 0, len(r)-1)
		for i := 0; i < len(r)-1; i++ {
			out = append(out, string(r[i:i+2]))
		}
		return out
	}

	aPairs := pairs(a)
	bPairs := pairs(b)
	if len(aPairs) == 0 || len(bPairs) == 0 {
		return 0
	}

	bCount := map[string]int{}
	for _, p := range bPairs {
		bCount[p]++
	}
	inter := 0
	for _, p := range aPairs {
		if bCount[p] > 0 {
			inter++
			bCount[p]--
		}
	}

	return float64(2*inter) / float64(len(aPairs)+len(bPairs))
}
