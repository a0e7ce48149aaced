package transfer

import "time"

const (
	mib = int64(1) << 20
	gib = int64(1) << 30
)

// connectionTier maps a minimum declared size to a parallel connection
// count. Larger transfers get fewer connections: connection count times
// per-connection buffer must stay inside the host's memory budget, and big
// files amortise per-connection overhead anyway.
type connectionTier struct {
	MinBytes    int64
	Connections int
}

// connectionTiers is ordered largest threshold first.
var connectionTiers = []connectionTier{
	{MinBytes: 1 * gib, Connections: 4},
	{MinBytes: 200 * mib, Connections: 6},
	{MinBytes: 0, Connections: 8},
}

// ConnectionsForSize resolves the parallel connection count for a transfer
// of the given size. Unknown sizes get the most conservative tier.
func ConnectionsForSize(sizeBytes int64) int {
	if sizeBytes < 0 {
		return connectionTiers[0].Connections
	}
	for _, tier := range connectionTiers {
		if sizeBytes >= tier.MinBytes {
			return tier.Connections
		}
	}
	return connectionTiers[len(connectionTiers)-1].Connections
}

// retryBackoff spaces transient retries without stalling the scheduler.
func retryBackoff(attempt int, base time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	if d > time.Minute {
		d = time.Minute
	}
	return d
}
