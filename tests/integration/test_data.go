package integration

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/EllisVaughan/bastion/internal/risk"
)

// TestPassword satisfies the password policy and stays off the denylist.
const TestPassword = "Sturdy-Passw0rd!7"

var userSeq atomic.Int64

// NextEmail returns a unique address per call so tests never collide on the
// users.email unique constraint.
func NextEmail(prefix string) string {
	return fmt.Sprintf("%s-%d@example.test", prefix, userSeq.Add(1))
}

// Coordinates of the "home" location trusted users log in from.
const (
	homeLat = 40.7128
	homeLon = -74.006
)

const homeTypingSpeed = 4.2

// HomeContext is the context a trusted user always logs in from: the test
// server's loopback origin, the given device, home coordinates, baseline
// typing speed, and the current UTC hour. The login handler stamps the hour
// server-side, so seeding any other hour would add a risk point on every
// request.
func HomeContext(device string) risk.LoginContext {
	now := time.Now().UTC()
	return risk.LoginContext{
		IP:          "127.0.0.1",
		Device:      device,
		Location:    risk.Coordinates{Lat: homeLat, Lon: homeLon},
		TypingSpeed: homeTypingSpeed,
		LoginHour:   now.Hour(),
		Timestamp:   now,
	}
}

// loginBody builds the payload for /auth/login and /auth/signup.
func loginBody(email, password, device string, lat, lon, typingSpeed float64) map[string]interface{} {
	return map[string]interface{}{
		"email":    email,
		"password": password,
		"context": map[string]interface{}{
			"device_fingerprint": device,
			"latitude":           lat,
			"longitude":          lon,
			"typing_speed":       typingSpeed,
		},
	}
}

// homeLoginBody is loginBody matched to HomeContext(device).
func homeLoginBody(email, password, device string) map[string]interface{} {
	return loginBody(email, password, device, homeLat, homeLon, homeTypingSpeed)
}
