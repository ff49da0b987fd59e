package connection

import "time"

// MaxReconnectDelay caps the exponential backoff.
const MaxReconnectDelay = 30 * time.Second

// reconnectKickDelay is how long Reconnect waits before dialing again.
const reconnectKickDelay = 100 * time.Millisecond

// BackoffDelay returns the delay before reconnect attempt n (1-based):
// base * 2^(n-1), capped at MaxReconnectDelay.
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= MaxReconnectDelay || delay <= 0 {
			return MaxReconnectDelay
		}
	}
	if delay > MaxReconnectDelay {
		return MaxReconnectDelay
	}
	return delay
}
