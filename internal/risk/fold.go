package risk

import (
	"math"
	"sort"
)

// Fold incorporates a scored context into the profile: the attempt's IP and
// device join the trusted sets, the location history and context log append
// (bounded to the configured caps), the behavioral baseline absorbs the new
// sample, and the profile's risk score is replaced with the attempt's score.
// Set membership is idempotent; the context log appends on every fold.
//
// Fold returns the updated profile and never performs I/O; persisting the
// result is the caller's responsibility.
func Fold(profile TrustProfile, ctx LoginContext, score int, locationName string, cfg Config) TrustProfile {
	if !profile.HasIP(ctx.IP) {
		profile.TrustedIPs = append(profile.TrustedIPs, ctx.IP)
	}
	if !profile.HasDevice(ctx.Device) {
		profile.TrustedDevices = append(profile.TrustedDevices, ctx.Device)
	}

	profile.KnownLocations = append(profile.KnownLocations, ctx.Location)
	if cfg.MaxKnownLocations > 0 && len(profile.KnownLocations) > cfg.MaxKnownLocations {
		profile.KnownLocations = profile.KnownLocations[len(profile.KnownLocations)-cfg.MaxKnownLocations:]
	}

	profile.ContextLog = append(profile.ContextLog, ContextEntry{
		IP:           ctx.IP,
		Device:       ctx.Device,
		Location:     ctx.Location,
		LocationName: locationName,
		Timestamp:    ctx.Timestamp,
		RiskScore:    score,
	})
	if cfg.MaxContextLog > 0 && len(profile.ContextLog) > cfg.MaxContextLog {
		profile.ContextLog = profile.ContextLog[len(profile.ContextLog)-cfg.MaxContextLog:]
	}

	profile.Baseline = foldBaseline(profile.Baseline, ctx, cfg)
	profile.RiskScore = score

	return profile
}

// foldBaseline updates the typing-speed moving average and the typical-hour
// set. The first typing sample seeds the average directly; later samples move
// it by the configured alpha, so no full-history replay is ever needed.
func foldBaseline(b Baseline, ctx LoginContext, cfg Config) Baseline {
	if ctx.TypingSpeed > 0 {
		if b.TypingSpeed <= 0 {
			b.TypingSpeed = ctx.TypingSpeed
		} else {
			b.TypingSpeed = b.TypingSpeed*(1-cfg.BaselineAlpha) + ctx.TypingSpeed*cfg.BaselineAlpha
		}
		b.TypingSpeed = math.Round(b.TypingSpeed*100) / 100
	}

	if !b.HasHour(ctx.LoginHour) {
		b.TypicalLoginHours = append(b.TypicalLoginHours, ctx.LoginHour)
		sort.Ints(b.TypicalLoginHours)
	}

	return b
}
