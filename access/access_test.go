package access

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUnknownUserDenied(t *testing.T) {
	g := NewGuard([]int64{42}, time.Second, 0)
	now := time.Now()

	v := g.Check(7, now)
	assert.False(t, v.Allowed)
	assert.Equal(t, DenyUnknownUser, v.Reason)
}

func TestAdminAllowedThenRateLimited(t *testing.T) {
	g := NewGuard([]int64{42}, time.Second, 0)
	now := time.Now()

	v := g.Check(42, now)
	assert.True(t, v.Allowed)
	assert.Empty(t, v.Reason)

	v = g.Check(42, now.Add(200*time.Millisecond))
	assert.False(t, v.Allowed)
	assert.Equal(t, DenyRateLimited, v.Reason)

	v = g.Check(42, now.Add(1100*time.Millisecond))
	assert.True(t, v.Allowed)
}

func TestDenialDoesNotExtendWindow(t *testing.T) {
	g := NewGuard([]int64{42}, time.Second, 0)
	now := time.Now()

	assert.True(t, g.Check(42, now).Allowed)
	// hammering inside the window keeps getting denied
	assert.False(t, g.Check(42, now.Add(500*time.Millisecond)).Allowed)
	assert.False(t, g.Check(42, now.Add(900*time.Millisecond)).Allowed)
	// window still measured from the last allowed command
	assert.True(t, g.Check(42, now.Add(time.Second)).Allowed)
}

func TestRateLimitDisabled(t *testing.T) {
	g := NewGuard([]int64{42}, 0, 0)
	now := time.Now()

	for i := 0; i < 5; i++ {
		assert.True(t, g.Check(42, now).Allowed)
	}
}

func TestIndependentUsers(t *testing.T) {
	g := NewGuard([]int64{1, 2}, time.Second, 0)
	now := time.Now()

	assert.True(t, g.Check(1, now).Allowed)
	assert.True(t, g.Check(2, now).Allowed, "users rate limited independently")
}

func TestEviction(t *testing.T) {
	admins := []int64{1, 2, 3}
	g := NewGuard(admins, time.Minute, 2)
	base := time.Now()

	assert.True(t, g.Check(1, base).Allowed)
	assert.True(t, g.Check(2, base.Add(time.Second)).Allowed)

	// map is full; admitting 3 evicts the stalest entry (user 1)
	assert.True(t, g.Check(3, base.Add(2*time.Second)).Allowed)
	assert.Len(t, g.lastSeen, 2)
	_, tracked := g.lastSeen[1]
	assert.False(t, tracked)

	// user 1 is admitted again because its window entry is gone
	assert.True(t, g.Check(1, base.Add(3*time.Second)).Allowed)
}
