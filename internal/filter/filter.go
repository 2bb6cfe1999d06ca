// Package filter admits or rejects records by timestamp.
package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/loglyzer/pkg/types"
)

// Layouts accepted for --since and --until, tried in order
var boundLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	"02/Jan/2006:15:04:05 -0700",
}

// TimeWindow bounds admitted timestamps. A zero bound is open. Both bounds
// are inclusive.
type TimeWindow struct {
	Since time.Time
	Until time.Time
}

// NewTimeWindow validates the bounds
func NewTimeWindow(since, until time.Time) (*TimeWindow, error) {
	if !since.IsZero() && !until.IsZero() && since.After(until) {
		return nil, fmt.Errorf("since (%s) is after until (%s)",
			since.Format(time.RFC3339), until.Format(time.RFC3339))
	}
	return &TimeWindow{Since: since, Until: until}, nil
}

// Parse builds a window from operator-supplied strings; empty strings leave
// that side open.
func Parse(since, until string) (*TimeWindow, error) {
	var lo, hi time.Time
	var err error

	if strings.TrimSpace(since) != "" {
		if lo, err = ParseBound(since); err != nil {
			return nil, fmt.Errorf("invalid since: %w", err)
		}
	}
	if strings.TrimSpace(until) != "" {
		if hi, err = ParseBound(until); err != nil {
			return nil, fmt.Errorf("invalid until: %w", err)
		}
	}

	return NewTimeWindow(lo, hi)
}

// ParseBound parses one bound. Values without a zone are taken as UTC.
func ParseBound(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range boundLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q (want RFC3339 or \"2006-01-02 15:04\")", s)
}

// Admit reports whether rec falls inside the window. A nil window admits
// everything.
func (w *TimeWindow) Admit(rec *types.LogRecord) bool {
	if w == nil {
		return true
	}
	if !w.Since.IsZero() && rec.Timestamp.Before(w.Since) {
		return false
	}
	if !w.Until.IsZero() && rec.Timestamp.After(w.Until) {
		return false
	}
	return true
}

// Bounded reports whether either side is set
func (w *TimeWindow) Bounded() bool {
	return w != nil && (!w.Since.IsZero() || !w.Until.IsZero())
}

func (w *TimeWindow) String() string {
	if !w.Bounded() {
		return "unbounded"
	}
	side := func(t time.Time) string {
		if t.IsZero() {
			return "*"
		}
		return t.Format(time.RFC3339)
	}
	return fmt.Sprintf("[%s, %s]", side(w.Since), side(w.Until))
}
