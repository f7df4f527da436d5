package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelay_NonPositiveAttempt(t *testing.T) {
	assert.Equal(t, time.Duration(0), Delay(time.Second, 0, time.Minute))
	assert.Equal(t, time.Duration(0), Delay(time.Second, -3, time.Minute))
}

func TestDelay_Growth(t *testing.T) {
	base := 100 * time.Millisecond
	for attempt := 1; attempt <= 5; attempt++ {
		want := base * time.Duration(1<<uint(attempt-1))
		got := Delay(base, attempt, time.Minute)
		assert.GreaterOrEqual(t, got, want*3/4, "attempt %d", attempt)
		assert.LessOrEqual(t, got, want*5/4, "attempt %d", attempt)
	}
}

func TestDelay_Capped(t *testing.T) {
	for _, attempt := range []int{10, 31, 100} {
		got := Delay(time.Second, attempt, 30*time.Second)
		assert.LessOrEqual(t, got, 37500*time.Millisecond)
		assert.Greater(t, got, time.Duration(0))
	}
}

func TestDelay_Jitter(t *testing.T) {
	seen := map[time.Duration]bool{}
	for i := 0; i < 100; i++ {
		seen[Delay(time.Second, 3, time.Minute)] = true
	}
	assert.Greater(t, len(seen), 1)
}
