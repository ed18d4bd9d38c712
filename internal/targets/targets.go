// Package targets expands event intentions such as "today_sunset" into the
// concrete target instants a job evaluates.
package targets

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"chromasky/internal/types"
)

// Intent is a relative event request resolved against the current local date.
type Intent string

const (
	TodaySunrise    Intent = "today_sunrise"
	TodaySunset     Intent = "today_sunset"
	TomorrowSunrise Intent = "tomorrow_sunrise"
	TomorrowSunset  Intent = "tomorrow_sunset"
)

// Target is one event instant to evaluate.
type Target struct {
	// Name is "<YYYY-MM-DD>_<kind>_<HHMM>" in local date and time.
	Name  string
	Kind  types.EventKind
	Local time.Time
	UTC   time.Time
}

// clock is a local wall-clock time of day.
type clock struct {
	hour, minute int
}

func (c clock) compact() string { return fmt.Sprintf("%02d%02d", c.hour, c.minute) }

// Expander resolves intentions in a fixed local zone.
type Expander struct {
	loc     *time.Location
	sunrise []clock
	sunset  []clock
}

// NewExpander parses the candidate local "HH:MM" times for each event kind.
func NewExpander(loc *time.Location, sunriseTimes, sunsetTimes []string) (*Expander, error) {
	if loc == nil {
		return nil, types.NewAppError(types.ErrCodeValidationTarget, "no local time zone", nil)
	}
	sunrise, err := parseClocks(sunriseTimes)
	if err != nil {
		return nil, err
	}
	sunset, err := parseClocks(sunsetTimes)
	if err != nil {
		return nil, err
	}
	return &Expander{loc: loc, sunrise: sunrise, sunset: sunset}, nil
}

// Expand resolves intents relative to now and returns the targets sorted by
// name. Duplicate intentions yield one target each.
func (e *Expander) Expand(now time.Time, intents []string) ([]Target, error) {
	local := now.In(e.loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.loc)

	byName := make(map[string]Target)
	for _, raw := range intents {
		intent := Intent(strings.ToLower(strings.TrimSpace(raw)))
		if intent == "" {
			continue
		}

		var (
			day   time.Time
			kind  types.EventKind
			times []clock
		)
		switch intent {
		case TodaySunrise:
			day, kind, times = today, types.EventSunrise, e.sunrise
		case TodaySunset:
			day, kind, times = today, types.EventSunset, e.sunset
		case TomorrowSunrise:
			day, kind, times = today.AddDate(0, 0, 1), types.EventSunrise, e.sunrise
		case TomorrowSunset:
			day, kind, times = today.AddDate(0, 0, 1), types.EventSunset, e.sunset
		default:
			return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationTarget,
				fmt.Sprintf("unknown event intention %q", raw), nil,
				map[string]any{"allowed": []Intent{TodaySunrise, TodaySunset, TomorrowSunrise, TomorrowSunset}})
		}

		for _, c := range times {
			at := time.Date(day.Year(), day.Month(), day.Day(), c.hour, c.minute, 0, 0, e.loc)
			name := fmt.Sprintf("%s_%s_%s", day.Format("2006-01-02"), kind, c.compact())
			byName[name] = Target{Name: name, Kind: kind, Local: at, UTC: at.UTC()}
		}
	}

	out := make([]Target, 0, len(byName))
	for _, t := range byName {
		out = append(out, t)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out, nil
}

func parseClocks(raw []string) ([]clock, error) {
	out := make([]clock, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		t, err := time.Parse("15:04", s)
		if err != nil {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationTarget,
				fmt.Sprintf("event time %q is not HH:MM", s), err,
				map[string]any{"value": s})
		}
		out = append(out, clock{hour: t.Hour(), minute: t.Minute()})
	}
	return out, nil
}
