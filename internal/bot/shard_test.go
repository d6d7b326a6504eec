package bot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReconnectWaitDoublesToCap(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, maxReconnectWait},
		{6, maxReconnectWait},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, reconnectWait(tc.attempts), "attempts=%d", tc.attempts)
	}
}

func TestReconnectWaitNeverUnderflows(t *testing.T) {
	// A sustained outage pushes the counter far past the shift width of
	// int64; the wait must stay at the cap, never zero or negative.
	for _, attempts := range []int{33, 34, 63, 64, 100, 1 << 20} {
		wait := reconnectWait(attempts)
		assert.Equal(t, maxReconnectWait, wait, "attempts=%d", attempts)
		assert.Positive(t, wait, "attempts=%d", attempts)
	}
}
