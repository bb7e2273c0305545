package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func foldContext() LoginContext {
	return LoginContext{
		IP:          "1.2.3.4",
		Device:      "chrome-macos-abc",
		Location:    Coordinates{Lat: 40.7128, Lon: -74.0060},
		TypingSpeed: 60.0,
		LoginHour:   9,
		Timestamp:   time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}
}

// Folding the same context twice grows the trusted sets once but appends to
// the context log both times.
func TestFold_SetMembershipIdempotent(t *testing.T) {
	cfg := DefaultConfig()
	ctx := foldContext()

	profile := Fold(TrustProfile{}, ctx, 0, "New York", cfg)
	profile = Fold(profile, ctx, 0, "New York", cfg)

	assert.Equal(t, []string{"1.2.3.4"}, profile.TrustedIPs)
	assert.Equal(t, []string{"chrome-macos-abc"}, profile.TrustedDevices)
	assert.Len(t, profile.ContextLog, 2)
	assert.Len(t, profile.KnownLocations, 2)
}

func TestFold_SeedsEmptyProfile(t *testing.T) {
	cfg := DefaultConfig()
	ctx := foldContext()

	profile := Fold(TrustProfile{}, ctx, 0, "New York", cfg)

	assert.Equal(t, []string{"1.2.3.4"}, profile.TrustedIPs)
	assert.Equal(t, []string{"chrome-macos-abc"}, profile.TrustedDevices)
	require.Len(t, profile.KnownLocations, 1)
	assert.Equal(t, ctx.Location, profile.KnownLocations[0])

	// First sample seeds the baseline directly.
	assert.Equal(t, 60.0, profile.Baseline.TypingSpeed)
	assert.Equal(t, []int{9}, profile.Baseline.TypicalLoginHours)

	require.Len(t, profile.ContextLog, 1)
	entry := profile.ContextLog[0]
	assert.Equal(t, "1.2.3.4", entry.IP)
	assert.Equal(t, "New York", entry.LocationName)
	assert.Equal(t, 0, entry.RiskScore)
}

func TestFold_MovingAverageBaseline(t *testing.T) {
	cfg := DefaultConfig()

	first := foldContext()
	profile := Fold(TrustProfile{}, first, 0, "New York", cfg)

	second := foldContext()
	second.TypingSpeed = 80.0
	second.LoginHour = 14
	profile = Fold(profile, second, 0, "New York", cfg)

	// 60*0.7 + 80*0.3 = 66.0
	assert.InDelta(t, 66.0, profile.Baseline.TypingSpeed, 0.01)
	assert.Equal(t, []int{9, 14}, profile.Baseline.TypicalLoginHours)
}

func TestFold_ZeroTypingSpeedKeepsBaseline(t *testing.T) {
	cfg := DefaultConfig()

	profile := Fold(TrustProfile{}, foldContext(), 0, "New York", cfg)

	unmeasured := foldContext()
	unmeasured.TypingSpeed = 0
	profile = Fold(profile, unmeasured, 0, "New York", cfg)

	assert.Equal(t, 60.0, profile.Baseline.TypingSpeed)
}

func TestFold_CapsHistories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxKnownLocations = 3
	cfg.MaxContextLog = 4

	var profile TrustProfile
	for i := 0; i < 10; i++ {
		ctx := foldContext()
		ctx.Location = Coordinates{Lat: float64(i), Lon: float64(i)}
		ctx.Timestamp = ctx.Timestamp.Add(time.Duration(i) * time.Hour)
		profile = Fold(profile, ctx, i, "Somewhere", cfg)
	}

	require.Len(t, profile.KnownLocations, 3)
	require.Len(t, profile.ContextLog, 4)

	// Most recent entries are retained.
	assert.Equal(t, Coordinates{Lat: 9, Lon: 9}, profile.KnownLocations[2])
	assert.Equal(t, 9, profile.ContextLog[3].RiskScore)
	assert.Equal(t, 6, profile.ContextLog[0].RiskScore)
}

func TestFold_RecordsLatestScore(t *testing.T) {
	cfg := DefaultConfig()

	profile := Fold(TrustProfile{}, foldContext(), 7, "New York", cfg)

	assert.Equal(t, 7, profile.RiskScore)
	assert.Equal(t, 7, profile.ContextLog[0].RiskScore)
}
