package http

import (
	"time"

	xutil "FinCast/pkg/util"
)

// ParseIntDefault parses s or returns def if empty or invalid.
func ParseIntDefault(s string, def int) int { return xutil.ParseIntDefault(s, def) }

// ParseTimeDefault parses RFC3339, a bare date or unix seconds, else def.
func ParseTimeDefault(s string, def time.Time) time.Time { return xutil.ParseTimeDefault(s, def) }
