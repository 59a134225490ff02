package eventloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestTimerWheelCancelIsIdempotent(t *testing.T) {
	w := NewTimerWheel()
	base := time.Now()
	h := w.Insert(base.Add(time.Second), TimerSendPing, 1, 0)

	w.Cancel(h)
	w.Cancel(h) // must not panic on a second cancel

	require.Equal(t, 0, w.Len())
}

func TestTimerWheelPopExpiredOnlyReturnsDueTimers(t *testing.T) {
	w := NewTimerWheel()
	base := time.Now()
	w.Insert(base.Add(-time.Second), TimerSendPing, 1, 0)
	w.Insert(base.Add(time.Hour), TimerSendPing, 2, 0)

	due := w.PopExpired(base)
	require.Len(t, due, 1)
	require.Equal(t, uint64(1), due[0].connID)
	require.Equal(t, 1, w.Len())
}

// TestTimerWheelPopsInDeadlineOrder encodes the invariant the loop's main
// cycle relies on: PopExpired never hands back a later deadline before an
// earlier one still pending at the same call.
func TestTimerWheelPopsInDeadlineOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		w := NewTimerWheel()
		base := time.Now()
		n := rapid.IntRange(1, 30).Draw(rt, "n").(int)
		offsets := make([]int, n)
		for i := range offsets {
			offset := rapid.IntRange(-1000, 1000).Draw(rt, "offset").(int)
			offsets[i] = offset
			w.Insert(base.Add(time.Duration(offset)*time.Millisecond), TimerSendPing, uint64(i), 0)
		}

		due := w.PopExpired(base.Add(2 * time.Second))
		require.Len(t, due, n)
		for i := 1; i < len(due); i++ {
			require.False(t, due[i].deadline.Before(due[i-1].deadline))
		}
	})
}
