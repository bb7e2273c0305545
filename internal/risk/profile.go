package risk

import "time"

// TrustProfile is the per-user accumulated trust knowledge: devices, IPs, and
// locations previously seen, plus the behavioral baseline built from past
// logins. Scoring reads it; only Fold mutates it. Trusted sets grow
// monotonically and are never pruned during scoring.
type TrustProfile struct {
	TrustedIPs     []string       `json:"trusted_ips"`
	TrustedDevices []string       `json:"trusted_devices"`
	KnownLocations []Coordinates  `json:"known_locations"`
	Baseline       Baseline       `json:"baseline"`
	ContextLog     []ContextEntry `json:"context_log"`
	RiskScore      int            `json:"risk_score"`
}

// Baseline is the behavioral profile accumulated across logins. A zero
// baseline means no history yet: every behavioral check treats that as
// nominal rather than anomalous.
type Baseline struct {
	TypingSpeed       float64 `json:"typing_speed"`
	TypicalLoginHours []int   `json:"typical_login_hours"`
}

// ContextEntry is one audit-trail record of a folded login context.
type ContextEntry struct {
	IP           string      `json:"ip"`
	Device       string      `json:"device"`
	Location     Coordinates `json:"location"`
	LocationName string      `json:"location_name"`
	Timestamp    time.Time   `json:"timestamp"`
	RiskScore    int         `json:"risk_score"`
}

// HasDevice reports whether the device fingerprint is already trusted.
func (p TrustProfile) HasDevice(device string) bool {
	for _, d := range p.TrustedDevices {
		if d == device {
			return true
		}
	}
	return false
}

// HasIP reports whether the IP is already trusted.
func (p TrustProfile) HasIP(ip string) bool {
	for _, v := range p.TrustedIPs {
		if v == ip {
			return true
		}
	}
	return false
}

// HasHour reports whether the hour is part of the typical login hours.
func (b Baseline) HasHour(hour int) bool {
	for _, h := range b.TypicalLoginHours {
		if h == hour {
			return true
		}
	}
	return false
}
