package gateway

import "golang.org/x/time/rate"

// frameBurst is the number of frames a connection may send back to back
// before the per-minute rate applies.
const frameBurst = 5

// NewFrameLimiter builds a per-connection limiter admitting rpm frames per
// minute. A non-positive rpm disables limiting and returns nil.
func NewFrameLimiter(rpm int) *rate.Limiter {
	if rpm <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(rpm))/60, frameBurst)
}
