// Package astro computes solar geometry for grid cells: the sun's apparent
// altitude and azimuth, the UTC instants of sunrise and sunset, and the event
// window masks that select the cells whose event falls near a target instant.
package astro

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/soniakeys/meeus/v3/coord"
	"github.com/soniakeys/meeus/v3/julian"
	"github.com/soniakeys/meeus/v3/sidereal"
	"github.com/soniakeys/meeus/v3/solar"
	"github.com/soniakeys/unit"

	"chromasky/internal/types"
)

const (
	// HorizonDeg is the altitude of the sun's centre at rise and set, which
	// folds standard refraction and the solar semi-diameter into the horizon.
	HorizonDeg = -0.833

	// defaultScanStep is the sampling interval used to bracket a crossing.
	defaultScanStep = 15 * time.Minute

	// defaultTolerance is the bisection stopping width.
	defaultTolerance = time.Second

	searchSpan = 24 * time.Hour
)

// SolarService answers solar position and event queries. It holds no mutable
// state and is safe for concurrent use.
type SolarService struct {
	logger    *slog.Logger
	scanStep  time.Duration
	tolerance time.Duration
}

// NewSolarService creates a SolarService.
func NewSolarService(logger *slog.Logger) *SolarService {
	return &SolarService{
		logger:    logger,
		scanStep:  defaultScanStep,
		tolerance: defaultTolerance,
	}
}

// Position returns the sun's altitude and azimuth in degrees at the given
// instant for an observer at (lat, lon). Azimuth is measured clockwise from
// north in [0, 360). No refraction correction is applied.
func (s *SolarService) Position(lat, lon float64, instant time.Time) (altitudeDeg, azimuthDeg float64) {
	jd := julian.TimeToJD(instant.UTC())
	ra, dec := solar.ApparentEquatorial(jd)
	st := sidereal.Apparent(jd)

	// EqToHz takes longitude positive west and measures azimuth from south.
	az, alt := coord.EqToHz(ra, dec, unit.AngleFromDeg(lat), unit.AngleFromDeg(-lon), st)

	azimuthDeg = math.Mod(az.Deg()+180, 360)
	if azimuthDeg < 0 {
		azimuthDeg += 360
	}
	return alt.Deg(), azimuthDeg
}

// EventInstant returns the first sunrise or sunset at or after 00:00 UTC of
// date for an observer at (lat, lon). ok is false when no such event occurs
// within 24 hours (polar day or night) or when the event's UTC date differs
// from date. Solver anomalies are logged and reported as ok == false.
func (s *SolarService) EventInstant(lat, lon float64, date time.Time, kind types.EventKind) (instant time.Time, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Debug("event solver failed",
				"lat", lat, "lon", lon, "kind", string(kind), "panic", fmt.Sprint(r))
			instant, ok = time.Time{}, false
		}
	}()

	start := startOfUTCDay(date)

	var rising bool
	switch kind {
	case types.EventSunrise:
		rising = true
	case types.EventSunset:
		rising = false
	default:
		s.logger.Debug("unknown event kind", "kind", string(kind))
		return time.Time{}, false
	}

	t, found := s.findCrossing(lat, lon, start, start.Add(searchSpan), rising)
	if !found {
		return time.Time{}, false
	}
	if !sameUTCDate(t, start) {
		return time.Time{}, false
	}
	return t, true
}

// DayEvents holds both horizon crossings for one UTC date.
type DayEvents struct {
	Sunrise    time.Time
	HasSunrise bool
	Sunset     time.Time
	HasSunset  bool
}

// SunTimes returns the sunrise and sunset instants for the UTC date.
func (s *SolarService) SunTimes(lat, lon float64, date time.Time) DayEvents {
	var ev DayEvents
	ev.Sunrise, ev.HasSunrise = s.EventInstant(lat, lon, date, types.EventSunrise)
	ev.Sunset, ev.HasSunset = s.EventInstant(lat, lon, date, types.EventSunset)
	return ev
}

// findCrossing scans [from, to] for the first interval where the altitude
// crosses the horizon in the requested direction, then bisects it.
func (s *SolarService) findCrossing(lat, lon float64, from, to time.Time, rising bool) (time.Time, bool) {
	above := func(t time.Time) float64 {
		alt, _ := s.Position(lat, lon, t)
		return alt - HorizonDeg
	}

	prevT := from
	prev := above(prevT)
	for t := from.Add(s.scanStep); !t.After(to); t = t.Add(s.scanStep) {
		cur := above(t)
		if math.IsNaN(cur) || math.IsNaN(prev) {
			return time.Time{}, false
		}
		if (rising && prev < 0 && cur >= 0) || (!rising && prev >= 0 && cur < 0) {
			return s.bisect(above, prevT, t, rising), true
		}
		prevT, prev = t, cur
	}
	return time.Time{}, false
}

func (s *SolarService) bisect(f func(time.Time) float64, lo, hi time.Time, rising bool) time.Time {
	for hi.Sub(lo) > s.tolerance {
		mid := lo.Add(hi.Sub(lo) / 2)
		up := f(mid) >= 0
		if up == rising {
			hi = mid
		} else {
			lo = mid
		}
	}
	return lo.Add(hi.Sub(lo) / 2).Truncate(time.Millisecond)
}

func startOfUTCDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func sameUTCDate(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
