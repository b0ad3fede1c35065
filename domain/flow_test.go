package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFlowStatusTerminal(t *testing.T) {
	assert.False(t, FlowStatusPending.Terminal())
	assert.True(t, FlowStatusCompleted.Terminal())
	assert.True(t, FlowStatusExpired.Terminal())
	assert.True(t, FlowStatusError.Terminal())
}

func TestFlowStatusCanTransition(t *testing.T) {
	statuses := []FlowStatus{FlowStatusPending, FlowStatusCompleted, FlowStatusExpired, FlowStatusError}

	for _, from := range statuses {
		for _, to := range statuses {
			allowed := from.CanTransition(to)
			if from == FlowStatusPending && to.Terminal() {
				assert.True(t, allowed, "%s -> %s should be allowed", from, to)
			} else {
				assert.False(t, allowed, "%s -> %s should be rejected", from, to)
			}
		}
	}
}

func TestFlowExpired(t *testing.T) {
	now := time.Now().UTC()
	flow := &AuthorizationFlow{ExpiresAt: now.Add(time.Minute)}

	assert.False(t, flow.Expired(now))
	assert.True(t, flow.Expired(now.Add(2*time.Minute)))
}
