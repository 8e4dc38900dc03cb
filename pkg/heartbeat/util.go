package heartbeat

import "time"

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
