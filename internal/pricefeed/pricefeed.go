package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Zone identifies a Nordic electricity price region.
type Zone string

const (
	SE1 Zone = "SE1"
	SE2 Zone = "SE2"
	SE3 Zone = "SE3"
	SE4 Zone = "SE4"
)

// Zones lists all supported price zones.
var Zones = []Zone{SE1, SE2, SE3, SE4}

// Valid reports whether z is one of the supported zones.
func (z Zone) Valid() bool {
	for _, v := range Zones {
		if z == v {
			return true
		}
	}
	return false
}

// ParseZone validates a zone string from config or API input.
func ParseZone(s string) (Zone, error) {
	z := Zone(s)
	if !z.Valid() {
		return "", fmt.Errorf("unknown price zone %q (expected SE1..SE4)", s)
	}
	return z, nil
}

// Sample is one observed price for a zone. Value is SEK per kWh.
// Stale means the value could not be refreshed for several consecutive
// polls and should not be trusted for starting new work.
type Sample struct {
	Zone       Zone      `json:"zone"`
	Value      float64   `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
	Stale      bool      `json:"stale"`
}

// ErrNoCurrentHour is returned when the day table contains no entry covering
// the current hour.
var ErrNoCurrentHour = errors.New("no price entry for the current hour")

// Feed fetches the current price for a zone. Implementations do not retry;
// retry and backoff policy belongs to the Poller.
type Feed interface {
	Fetch(ctx context.Context, zone Zone) (Sample, error)
}
