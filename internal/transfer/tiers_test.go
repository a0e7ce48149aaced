package transfer

import (
	"testing"
	"time"
)

func TestConnectionsForSize(t *testing.T) {
	tests := []struct {
		name string
		size int64
		want int
	}{
		{name: "2.5 GiB", size: 5 * gib / 2, want: 4},
		{name: "exactly 1 GiB", size: gib, want: 4},
		{name: "800 MiB", size: 800 * mib, want: 6},
		{name: "exactly 200 MiB", size: 200 * mib, want: 6},
		{name: "50 MiB", size: 50 * mib, want: 8},
		{name: "zero", size: 0, want: 8},
		{name: "unknown", size: -1, want: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConnectionsForSize(tt.size); got != tt.want {
				t.Fatalf("ConnectionsForSize(%d) = %d, want %d", tt.size, got, tt.want)
			}
		})
	}
}

func TestRetryBackoff(t *testing.T) {
	base := 5 * time.Second
	if got := retryBackoff(1, base); got != 5*time.Second {
		t.Fatalf("attempt 1: %v", got)
	}
	if got := retryBackoff(3, base); got != 20*time.Second {
		t.Fatalf("attempt 3: %v", got)
	}
	if got := retryBackoff(10, base); got != time.Minute {
		t.Fatalf("backoff should cap at one minute, got %v", got)
	}
}
