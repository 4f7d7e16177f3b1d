package delivery

import (
	"math"
	"time"
)

const maxBackoff = time.Hour

// Backoff computes retry delays as base * multiplier^(failures-1).
type Backoff struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
}

// Delay returns the wait after the given number of consecutive failures.
func (b Backoff) Delay(failures int) time.Duration {
	if failures <= 0 || b.Base <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	ceiling := b.Max
	if ceiling <= 0 {
		ceiling = maxBackoff
	}
	d := float64(b.Base) * math.Pow(mult, float64(failures-1))
	if d >= float64(ceiling) || math.IsInf(d, 0) || math.IsNaN(d) {
		return ceiling
	}
	return time.Duration(d)
}
