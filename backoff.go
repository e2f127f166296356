package profilesync

import "time"

// BackOff returns how long to wait after the given failed attempt before the next one is dispatched.
func (p RetryPolicy) BackOff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := p.BaseBackOff
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxBackOff > 0 && d >= p.MaxBackOff {
			return p.MaxBackOff
		}
	}

	if p.MaxBackOff > 0 && d > p.MaxBackOff {
		return p.MaxBackOff
	}

	return d
}

// Exhausted reports whether no attempts remain after the given attempt failed.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
