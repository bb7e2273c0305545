package risk

import "math"

// Scorer evaluates login contexts against a trust profile. Pure computation:
// no I/O, no clock reads, deterministic for a given context and profile.
type Scorer struct {
	cfg Config
}

// NewScorer creates a scorer with the given policy configuration.
func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Config returns the policy configuration the scorer was built with.
func (s *Scorer) Config() Config {
	return s.cfg
}

// Assess runs every signal check against the profile, sums the triggered
// weights, and maps the total to a policy decision.
func (s *Scorer) Assess(ctx LoginContext, profile TrustProfile) Assessment {
	signals := s.Evaluate(ctx, profile)
	score := 0
	for _, sig := range signals {
		score += sig.Weight
	}
	return Assessment{
		Score:    score,
		Signals:  signals,
		Decision: s.Decide(score),
	}
}

// Evaluate returns the triggered signals, each carrying its weight. Signals
// are independent: a profile with no history for a given signal contributes
// nothing for it.
func (s *Scorer) Evaluate(ctx LoginContext, profile TrustProfile) []Signal {
	var signals []Signal
	if sig, ok := s.checkDevice(ctx, profile); ok {
		signals = append(signals, sig)
	}
	if sig, ok := s.checkIP(ctx, profile); ok {
		signals = append(signals, sig)
	}
	if sig, ok := s.checkLocation(ctx, profile); ok {
		signals = append(signals, sig)
	}
	if sig, ok := s.checkHour(ctx, profile); ok {
		signals = append(signals, sig)
	}
	if sig, ok := s.checkTyping(ctx, profile); ok {
		signals = append(signals, sig)
	}
	return signals
}

// Decide maps a score to the three-tier policy outcome.
func (s *Scorer) Decide(score int) Decision {
	switch {
	case score >= s.cfg.BlockThreshold:
		return DecisionBlocked
	case score >= s.cfg.MFAThreshold:
		return DecisionTwoFactorPending
	default:
		return DecisionAllowed
	}
}

func (s *Scorer) checkDevice(ctx LoginContext, profile TrustProfile) (Signal, bool) {
	if profile.HasDevice(ctx.Device) {
		return Signal{}, false
	}
	return Signal{Kind: SignalDeviceUnknown, Weight: s.cfg.DeviceWeight}, true
}

func (s *Scorer) checkIP(ctx LoginContext, profile TrustProfile) (Signal, bool) {
	if profile.HasIP(ctx.IP) {
		return Signal{}, false
	}
	return Signal{Kind: SignalIPUnknown, Weight: s.cfg.IPWeight}, true
}

// checkLocation triggers only when the attempt is farther than the known
// distance threshold from every previously seen location. The weight scales
// with the distance tier.
func (s *Scorer) checkLocation(ctx LoginContext, profile TrustProfile) (Signal, bool) {
	if len(profile.KnownLocations) == 0 {
		return Signal{}, false
	}
	nearest := nearestKnownDistance(ctx.Location, profile.KnownLocations)
	if nearest <= s.cfg.KnownDistanceKm {
		return Signal{}, false
	}
	tier, weight := TierDistant, s.cfg.LocationDistantWeight
	if nearest > s.cfg.FarDistanceKm {
		tier, weight = TierFar, s.cfg.LocationFarWeight
	}
	return Signal{Kind: SignalLocationAnomaly, Weight: weight, Tier: tier}, true
}

func (s *Scorer) checkHour(ctx LoginContext, profile TrustProfile) (Signal, bool) {
	if len(profile.Baseline.TypicalLoginHours) == 0 {
		return Signal{}, false
	}
	if profile.Baseline.HasHour(ctx.LoginHour) {
		return Signal{}, false
	}
	return Signal{Kind: SignalHourAnomaly, Weight: s.cfg.HourWeight}, true
}

// checkTyping compares the attempt's typing speed against the baseline with a
// relative tolerance band. A zero baseline or an unmeasured attempt speed
// means no behavioral history, which is nominal.
func (s *Scorer) checkTyping(ctx LoginContext, profile TrustProfile) (Signal, bool) {
	baseline := profile.Baseline.TypingSpeed
	if baseline <= 0 || ctx.TypingSpeed <= 0 {
		return Signal{}, false
	}
	deviation := math.Abs(ctx.TypingSpeed-baseline) / baseline
	if deviation <= s.cfg.TypingTolerance {
		return Signal{}, false
	}
	return Signal{Kind: SignalTypingAnomaly, Weight: s.cfg.TypingWeight}, true
}
