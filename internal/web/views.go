package web

import (
	"slices"
	"strconv"
	"time"
)

const appName = "AlertNAV"

// EditableEvents are offered on the edit page.
var EditableEvents = []string{"Construction", "Blocked Road"}

// MapConfig positions the map before the first fetch and sets the poll rate.
type MapConfig struct {
	FallbackLat  float64
	FallbackLon  float64
	Zoom         int
	PollInterval time.Duration
}

// DefaultMapConfig centres on Columbus, Ohio and polls every five seconds.
func DefaultMapConfig() MapConfig {
	return MapConfig{
		FallbackLat:  39.9612,
		FallbackLon:  -82.9988,
		Zoom:         13,
		PollInterval: 5 * time.Second,
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func coord(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 6, 64)
}

// eventOptions lists EditableEvents, led by current when it is set but not
// one of them.
func eventOptions(current string) []string {
	if current == "" || slices.Contains(EditableEvents, current) {
		return EditableEvents
	}
	return append([]string{current}, EditableEvents...)
}
