// Package risk implements the contextual scoring engine behind login
// decisions.
//
// Every login attempt is evaluated against five weighted signals: device
// novelty, IP novelty, distance from previously seen locations, login hour,
// and typing cadence. Scores are additive non-negative integers. Attempts at
// or above the block threshold are rejected before any credentials are
// issued; attempts in the middle band must complete a second factor.
package risk

// Decision is the policy verdict for one login attempt.
type Decision string

const (
	DecisionAllowed          Decision = "allowed"
	DecisionTwoFactorPending Decision = "two_factor_pending"
	DecisionBlocked          Decision = "blocked"
)

// String returns the string representation of Decision
func (d Decision) String() string {
	return string(d)
}

// SignalKind identifies one anomaly check.
type SignalKind string

const (
	SignalDeviceUnknown   SignalKind = "device_unknown"
	SignalIPUnknown       SignalKind = "ip_unknown"
	SignalLocationAnomaly SignalKind = "location_anomaly"
	SignalHourAnomaly     SignalKind = "hour_anomaly"
	SignalTypingAnomaly   SignalKind = "typing_anomaly"
)

// DistanceTier classifies how far an anomalous location sits from every
// known location. Only location signals carry a tier.
type DistanceTier string

const (
	TierDistant DistanceTier = "distant"
	TierFar     DistanceTier = "far"
)

// Signal is one triggered anomaly check and the weight it contributes to the
// total score. Signals are evaluated independently and summed; no signal can
// reduce the score of another.
type Signal struct {
	Kind   SignalKind   `json:"kind"`
	Weight int          `json:"weight"`
	Tier   DistanceTier `json:"tier,omitempty"`
}

// Assessment is the scorer's full result for a single attempt.
type Assessment struct {
	Score    int      `json:"score"`
	Signals  []Signal `json:"signals"`
	Decision Decision `json:"decision"`
}
