package matcher

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher decides whether a stock symbol is served by this deployment, based
// on include/exclude glob lists from config. Symbols arrive in mixed case
// (env files, overlay YAML, event payloads), so patterns and symbols are
// normalized before matching.
type Matcher struct{ include, exclude []string }

func New(include, exclude []string) Matcher {
	return Matcher{include: normalize(include), exclude: normalize(exclude)}
}

func (m Matcher) Match(symbol string) bool {
	// empty include => serve nothing
	if len(m.include) == 0 {
		return false
	}
	symbol = canon(symbol)
	included := false
	for _, p := range m.include {
		if ok, _ := doublestar.Match(p, symbol); ok {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, p := range m.exclude {
		if ok, _ := doublestar.Match(p, symbol); ok {
			return false
		}
	}
	return true
}

func normalize(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = canon(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func canon(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }
