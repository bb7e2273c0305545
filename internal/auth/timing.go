package auth

import (
	"crypto/rand"
	"math/big"
	"time"
)

// TimingConfig tunes the response-time floor on the credential path.
type TimingConfig struct {
	BaseDelayMs    int  // minimum delay in milliseconds
	RandomDelayMs  int  // jitter added on top, exclusive upper bound
	DelayOnSuccess bool // apply the floor to successful logins too
}

// TimingDelay pads authentication responses so their duration does not
// reveal which check rejected the attempt. An unknown email and a wrong
// password should cost the caller about the same time.
type TimingDelay struct {
	config TimingConfig
}

func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{config: config}
}

// targetDelay is the floor for one response: base plus random jitter.
// Jitter comes from crypto/rand so the padding cannot be modeled out.
func (td *TimingDelay) targetDelay() time.Duration {
	delay := time.Duration(td.config.BaseDelayMs) * time.Millisecond
	if td.config.RandomDelayMs > 0 {
		if n, err := rand.Int(rand.Reader, big.NewInt(int64(td.config.RandomDelayMs))); err == nil {
			delay += time.Duration(n.Int64()) * time.Millisecond
		}
	}
	return delay
}

// Wait sleeps for the full target delay. Failures always pay it; successes
// only when DelayOnSuccess is set.
func (td *TimingDelay) Wait(success bool) {
	td.WaitFrom(time.Now(), success)
}

// WaitFrom sleeps for the remainder of the target delay, counting work done
// since startTime toward it. A caller that already spent time hashing a
// password does not stack a second full delay on top.
func (td *TimingDelay) WaitFrom(startTime time.Time, success bool) {
	if success && !td.config.DelayOnSuccess {
		return
	}

	if remaining := td.targetDelay() - time.Since(startTime); remaining > 0 {
		time.Sleep(remaining)
	}
}
