package astro

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sj14/astral/pkg/astral"
)

// Solar event names accepted by the calculator.
const (
	EventDawn      = "dawn"
	EventSunrise   = "sunrise"
	EventSolarNoon = "solar_noon"
	EventSunset    = "sunset"
	EventDusk      = "dusk"
)

// Domain errors for the astro package.
var (
	// ErrNoLocation is returned when no location has been configured.
	// Astronomical triggers and conditions depending on the calculator
	// are skipped until a location is set.
	ErrNoLocation = errors.New("astro: no location configured")

	// ErrUnknownEvent is returned for an unrecognised solar event name.
	ErrUnknownEvent = errors.New("astro: unknown event")

	// ErrCalculation is returned when the underlying solar computation
	// fails (e.g. polar day/night where the sun never crosses the
	// horizon).
	ErrCalculation = errors.New("astro: calculation failed")
)

// Location is a geographic position for solar computations.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Timezone  string  `json:"timezone,omitempty"`
}

// SolarTimes holds the computed solar events for one calendar day.
type SolarTimes struct {
	Date            time.Time `json:"date"`
	Dawn            time.Time `json:"dawn"`
	Sunrise         time.Time `json:"sunrise"`
	SolarNoon       time.Time `json:"solar_noon"`
	Sunset          time.Time `json:"sunset"`
	Dusk            time.Time `json:"dusk"`
	GoldenHourStart time.Time `json:"golden_hour_start"`
	GoldenHourEnd   time.Time `json:"golden_hour_end"`
}

// Calculator computes solar and lunar events for a configured location.
//
// All computations are pure functions of (location, instant); the only
// mutable state is the per-calendar-day cache of solar times.
//
// Thread Safety: all methods are safe for concurrent use.
type Calculator struct {
	mu    sync.RWMutex
	loc   *Location
	cache map[string]SolarTimes // keyed by YYYY-MM-DD in local time
	clock func() time.Time
}

// New creates a calculator. loc may be nil; SetLocation can supply the
// position later (e.g. from a location provider).
func New(loc *Location) *Calculator {
	c := &Calculator{
		cache: make(map[string]SolarTimes),
		clock: time.Now,
	}
	if loc != nil {
		l := *loc
		c.loc = &l
	}
	return c
}

// SetLocation replaces the configured location and invalidates the day
// cache.
func (c *Calculator) SetLocation(loc Location) {
	c.mu.Lock()
	c.loc = &loc
	c.cache = make(map[string]SolarTimes)
	c.mu.Unlock()
}

// Location returns the configured location, if any.
func (c *Calculator) Location() (Location, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.loc == nil {
		return Location{}, false
	}
	return *c.loc, true
}

// SolarTimes returns the solar event times for the given date, computing
// and caching them on first request for that calendar day.
func (c *Calculator) SolarTimes(date time.Time) (SolarTimes, error) {
	key := date.Format("2006-01-02")

	c.mu.RLock()
	cached, ok := c.cache[key]
	loc := c.loc
	c.mu.RUnlock()

	if ok {
		return cached, nil
	}
	if loc == nil {
		return SolarTimes{}, ErrNoLocation
	}

	observer := astral.Observer{Latitude: loc.Latitude, Longitude: loc.Longitude}

	sunrise, err := astral.Sunrise(observer, date)
	if err != nil {
		return SolarTimes{}, fmt.Errorf("%w: sunrise: %w", ErrCalculation, err)
	}
	sunset, err := astral.Sunset(observer, date)
	if err != nil {
		return SolarTimes{}, fmt.Errorf("%w: sunset: %w", ErrCalculation, err)
	}
	dawn, err := astral.Dawn(observer, date, astral.DepressionCivil)
	if err != nil {
		return SolarTimes{}, fmt.Errorf("%w: dawn: %w", ErrCalculation, err)
	}
	dusk, err := astral.Dusk(observer, date, astral.DepressionCivil)
	if err != nil {
		return SolarTimes{}, fmt.Errorf("%w: dusk: %w", ErrCalculation, err)
	}
	noon := astral.Noon(observer, date)

	st := SolarTimes{
		Date:      date,
		Dawn:      dawn,
		Sunrise:   sunrise,
		SolarNoon: noon,
		Sunset:    sunset,
		Dusk:      dusk,
	}

	// Golden hour is best-effort; at extreme latitudes it may not exist.
	if ghStart, ghEnd, ghErr := astral.GoldenHour(observer, date, astral.SunDirectionSetting); ghErr == nil {
		st.GoldenHourStart = ghStart
		st.GoldenHourEnd = ghEnd
	}

	c.mu.Lock()
	c.cache[key] = st
	c.mu.Unlock()

	return st, nil
}

// EventTime resolves a solar event for a date, applying a signed offset
// in minutes. Negative offsets move the time earlier.
func (c *Calculator) EventTime(event string, date time.Time, offsetMinutes int) (time.Time, error) {
	st, err := c.SolarTimes(date)
	if err != nil {
		return time.Time{}, err
	}

	var t time.Time
	switch event {
	case EventDawn:
		t = st.Dawn
	case EventSunrise:
		t = st.Sunrise
	case EventSolarNoon:
		t = st.SolarNoon
	case EventSunset:
		t = st.Sunset
	case EventDusk:
		t = st.Dusk
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}

	return t.Add(time.Duration(offsetMinutes) * time.Minute), nil
}

// IsAfter reports whether t is after the event (with offset) on t's
// calendar day.
func (c *Calculator) IsAfter(event string, t time.Time, offsetMinutes int) (bool, error) {
	et, err := c.EventTime(event, t, offsetMinutes)
	if err != nil {
		return false, err
	}
	return t.After(et), nil
}

// IsBefore reports whether t is before the event (with offset) on t's
// calendar day.
func (c *Calculator) IsBefore(event string, t time.Time, offsetMinutes int) (bool, error) {
	et, err := c.EventTime(event, t, offsetMinutes)
	if err != nil {
		return false, err
	}
	return t.Before(et), nil
}

// IsBetween reports whether t falls between two events on t's calendar
// day (e.g. between sunrise and sunset).
func (c *Calculator) IsBetween(startEvent, endEvent string, t time.Time) (bool, error) {
	start, err := c.EventTime(startEvent, t, 0)
	if err != nil {
		return false, err
	}
	end, err := c.EventTime(endEvent, t, 0)
	if err != nil {
		return false, err
	}
	return t.After(start) && t.Before(end), nil
}

// MinutesUntil returns the number of whole minutes until the next
// occurrence of the event, rolling to tomorrow when today's has already
// passed.
func (c *Calculator) MinutesUntil(event string) (int, error) {
	now := c.clock()

	et, err := c.EventTime(event, now, 0)
	if err != nil {
		return 0, err
	}
	if !et.After(now) {
		et, err = c.EventTime(event, now.AddDate(0, 0, 1), 0)
		if err != nil {
			return 0, err
		}
	}
	return int(et.Sub(now).Minutes()), nil
}

// SunPosition returns the sun's elevation and azimuth in degrees at the
// given instant.
func (c *Calculator) SunPosition(t time.Time) (elevation, azimuth float64, err error) {
	c.mu.RLock()
	loc := c.loc
	c.mu.RUnlock()

	if loc == nil {
		return 0, 0, ErrNoLocation
	}

	observer := astral.Observer{Latitude: loc.Latitude, Longitude: loc.Longitude}
	return astral.Elevation(observer, t, true), astral.Azimuth(observer, t), nil
}
