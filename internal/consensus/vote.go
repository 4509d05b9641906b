package consensus

import (
	"fmt"
	"sort"
	"strings"
)

// Vote returns the most frequent value and its count. Ties go to the
// lexically smallest value so the outcome is independent of model order.
// The empty slice yields ("", 0).
func Vote(values []string) (string, int) {
	counts := make(map[string]int, len(values))
	for _, v := range values {
		counts[v]++
	}
	var best string
	bestN := 0
	for v, n := range counts {
		if n > bestN || (n == bestN && v < best) {
			best, bestN = v, n
		}
	}
	return best, bestN
}

// normalizeCode turns a decoded agent-characteristic value into a vote key.
// Lists become their sorted elements joined with ";". Nil and empty values
// are not votes.
func normalizeCode(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		s := strings.TrimSpace(x)
		return s, s != ""
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			if s, ok := normalizeCode(e); ok {
				parts = append(parts, s)
			}
		}
		if len(parts) == 0 {
			return "", false
		}
		sort.Strings(parts)
		return strings.Join(parts, ";"), true
	case []string:
		items := make([]any, len(x))
		for i, s := range x {
			items[i] = s
		}
		return normalizeCode(items)
	}
	return fmt.Sprint(v), true
}
