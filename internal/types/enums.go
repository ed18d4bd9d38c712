package types

import (
	"fmt"
	"strings"
)

// EventKind selects which solar horizon crossing a mask or bundle refers to.
type EventKind string

const (
	EventSunrise EventKind = "sunrise"
	EventSunset  EventKind = "sunset"
)

// ParseEventKind converts a raw string into an EventKind.
func ParseEventKind(s string) (EventKind, error) {
	switch EventKind(strings.ToLower(strings.TrimSpace(s))) {
	case EventSunrise:
		return EventSunrise, nil
	case EventSunset:
		return EventSunset, nil
	}
	return "", NewAppErrorWithDetails(ErrCodeValidationEventKind,
		fmt.Sprintf("unknown event kind %q", s), nil,
		map[string]any{"allowed": []string{string(EventSunrise), string(EventSunset)}})
}

// Factor names one sub-score of the glow index.
type Factor string

const (
	FactorBoundary Factor = "boundary"
	FactorHCC      Factor = "hcc"
	FactorMCC      Factor = "mcc"
	FactorLCC      Factor = "lcc"
	FactorAOD550   Factor = "aod550"
)

// AllFactors lists every factor in canonical output order.
var AllFactors = []Factor{FactorBoundary, FactorHCC, FactorMCC, FactorLCC, FactorAOD550}

// ScoreName is the bundle field name carrying the factor's sub-score.
func (f Factor) ScoreName() string {
	return "score_" + string(f)
}

// IsQuality reports whether the factor contributes to the weighted quality
// average. The remaining factors are multiplicative penalties.
func (f Factor) IsQuality() bool {
	return f == FactorBoundary || f == FactorHCC || f == FactorMCC
}

// InputField returns the input field the factor reads at the observer cell.
// The boundary factor reads hcc along the ray.
func (f Factor) InputField() string {
	if f == FactorBoundary {
		return FieldHCC
	}
	return string(f)
}

// Input field names.
const (
	FieldHCC    = "hcc"
	FieldMCC    = "mcc"
	FieldLCC    = "lcc"
	FieldAOD550 = "aod550"
)

// ParseFactors resolves names into Factors, preserving canonical order and
// dropping duplicates. Both "hcc" and "score_hcc" forms are accepted. An
// unknown name or an empty selection fails fast.
func ParseFactors(names []string) ([]Factor, error) {
	want := make(map[Factor]bool, len(names))
	for _, raw := range names {
		name := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), "score_")
		if name == "" {
			continue
		}
		f := Factor(name)
		known := false
		for _, k := range AllFactors {
			if k == f {
				known = true
				break
			}
		}
		if !known {
			return nil, NewAppErrorWithDetails(ErrCodeValidationUnknownFactor,
				fmt.Sprintf("unknown factor %q", raw), nil,
				map[string]any{"factor": raw})
		}
		want[f] = true
	}
	if len(want) == 0 {
		return nil, NewAppError(ErrCodeValidationUnknownFactor, "no factors requested", nil)
	}

	out := make([]Factor, 0, len(want))
	for _, f := range AllFactors {
		if want[f] {
			out = append(out, f)
		}
	}
	return out, nil
}
