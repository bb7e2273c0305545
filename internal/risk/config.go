package risk

// Default policy values. Chosen so that the two strongest identity signals
// (unknown device + unknown IP) reach the second-factor band on their own,
// while a blocked outcome requires anomalies across identity and behavior.
const (
	DefaultDeviceWeight          = 3
	DefaultIPWeight              = 2
	DefaultHourWeight            = 2
	DefaultTypingWeight          = 2
	DefaultLocationDistantWeight = 2
	DefaultLocationFarWeight     = 4

	DefaultMFAThreshold   = 5
	DefaultBlockThreshold = 10

	DefaultKnownDistanceKm = 500.0  // within this of any known location = normal
	DefaultFarDistanceKm   = 2000.0 // beyond this = far tier
	DefaultTypingTolerance = 0.5    // relative band around the typing baseline

	DefaultMaxKnownLocations = 20
	DefaultMaxContextLog     = 50
	DefaultBaselineAlpha     = 0.3
)

// Config carries every weight, threshold, and retention cap the scorer and
// fold use. A Config is injected at construction; there is no package-level
// policy state.
type Config struct {
	DeviceWeight          int
	IPWeight              int
	HourWeight            int
	TypingWeight          int
	LocationDistantWeight int
	LocationFarWeight     int

	// MFAThreshold and BlockThreshold partition scores into the three
	// outcomes: [0, MFA) allowed, [MFA, Block) second factor, [Block, ∞)
	// blocked.
	MFAThreshold   int
	BlockThreshold int

	KnownDistanceKm float64
	FarDistanceKm   float64
	TypingTolerance float64

	MaxKnownLocations int
	MaxContextLog     int
	BaselineAlpha     float64
}

// DefaultConfig returns the standard policy configuration.
func DefaultConfig() Config {
	return Config{
		DeviceWeight:          DefaultDeviceWeight,
		IPWeight:              DefaultIPWeight,
		HourWeight:            DefaultHourWeight,
		TypingWeight:          DefaultTypingWeight,
		LocationDistantWeight: DefaultLocationDistantWeight,
		LocationFarWeight:     DefaultLocationFarWeight,
		MFAThreshold:          DefaultMFAThreshold,
		BlockThreshold:        DefaultBlockThreshold,
		KnownDistanceKm:       DefaultKnownDistanceKm,
		FarDistanceKm:         DefaultFarDistanceKm,
		TypingTolerance:       DefaultTypingTolerance,
		MaxKnownLocations:     DefaultMaxKnownLocations,
		MaxContextLog:         DefaultMaxContextLog,
		BaselineAlpha:         DefaultBaselineAlpha,
	}
}
