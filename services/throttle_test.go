package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPollThrottleAllow(t *testing.T) {
	throttle := NewPollThrottle()
	defer throttle.Close()

	assert.True(t, throttle.Allow("f1", 5))
	assert.False(t, throttle.Allow("f1", 5), "second call inside the window must be damped")

	// Flows are damped independently.
	assert.True(t, throttle.Allow("f2", 5))
}

func TestPollThrottleNonPositiveInterval(t *testing.T) {
	throttle := NewPollThrottle()
	defer throttle.Close()

	assert.True(t, throttle.Allow("f1", 0))
	assert.True(t, throttle.Allow("f1", 0))
	assert.True(t, throttle.Allow("f1", -3))
}

func TestPollThrottleForget(t *testing.T) {
	throttle := NewPollThrottle()
	defer throttle.Close()

	assert.True(t, throttle.Allow("f1", 60))
	assert.False(t, throttle.Allow("f1", 60))

	throttle.Forget("f1")
	assert.True(t, throttle.Allow("f1", 60))
}

func TestPollThrottleWindowExpires(t *testing.T) {
	throttle := NewPollThrottle()
	defer throttle.Close()

	assert.True(t, throttle.Allow("f1", 1))
	assert.False(t, throttle.Allow("f1", 1))

	assert.Eventually(t, func() bool {
		return throttle.Allow("f1", 1)
	}, 3*time.Second, 50*time.Millisecond)
}
