package worker

import "time"

// backoffDelay is the redelivery delay for a message that failed: 1s after
// the first attempt, doubling up to a minute.
func backoffDelay(numDelivered uint64) time.Duration {
	attempt := int(numDelivered)
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 7 {
		return time.Minute
	}
	sec := 1 << (attempt - 1)
	if sec > 60 {
		sec = 60
	}
	return time.Duration(sec) * time.Second
}
