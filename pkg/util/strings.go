package util

import (
	"strconv"
	"strings"
)

// ParseIntDefault parses s or returns def if empty/invalid.
func ParseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// NormalizeSymbol trims and upper-cases a ticker.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// NormalizeSymbols normalizes every ticker, keeping order and duplicates.
func NormalizeSymbols(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = NormalizeSymbol(s)
	}
	return out
}
