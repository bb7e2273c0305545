package risk

import (
	"fmt"
	"time"
)

// Coordinates is a geographic point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// LoginContext is the evidence captured from one login attempt: network
// origin, device fingerprint, location, and behavioral timing. Immutable once
// captured; it is discarded after scoring and logging, never persisted on its
// own.
type LoginContext struct {
	IP          string
	Device      string
	Location    Coordinates
	TypingSpeed float64
	LoginHour   int
	Timestamp   time.Time
}

// Validate rejects contexts with missing or out-of-range fields. A context
// that fails validation must not be scored or folded.
func (c LoginContext) Validate() error {
	if c.IP == "" {
		return fmt.Errorf("login context missing ip")
	}
	if c.Device == "" {
		return fmt.Errorf("login context missing device fingerprint")
	}
	if c.LoginHour < 0 || c.LoginHour > 23 {
		return fmt.Errorf("login hour %d out of range", c.LoginHour)
	}
	if c.TypingSpeed < 0 {
		return fmt.Errorf("typing speed cannot be negative")
	}
	if c.Location.Lat < -90 || c.Location.Lat > 90 {
		return fmt.Errorf("latitude %.4f out of range", c.Location.Lat)
	}
	if c.Location.Lon < -180 || c.Location.Lon > 180 {
		return fmt.Errorf("longitude %.4f out of range", c.Location.Lon)
	}
	if c.Timestamp.IsZero() {
		return fmt.Errorf("login context missing timestamp")
	}
	return nil
}
