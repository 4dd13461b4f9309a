package utils

import (
	"errors"
	"fmt"
	"sync"
	"time"
	_ "time/tzdata"
)

// ErrZeroTime is returned when a stored timestamp was never set
var ErrZeroTime = errors.New("zero timestamp")

var locations sync.Map

// LoadLocation returns the named IANA location, caching successful lookups
func LoadLocation(name string) (*time.Location, error) {
	if loc, ok := locations.Load(name); ok {
		return loc.(*time.Location), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", name, err)
	}
	locations.Store(name, loc)
	return loc, nil
}

// GetTimeZone returns the UTC offset of t in whole hours
func GetTimeZone(t time.Time) int {
	_, offset := t.Zone()
	return offset / 3600
}

// ConvertTimeToLocal converts a stored UTC timestamp to loc
func ConvertTimeToLocal(t time.Time, loc *time.Location) (time.Time, error) {
	if t.IsZero() {
		return time.Time{}, ErrZeroTime
	}
	if loc == nil {
		return time.Time{}, errors.New("nil location")
	}
	return t.UTC().In(loc), nil
}
