package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestBreaker(config BreakerConfig, onTransition TransitionFunc) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	breaker := NewBreaker("test", config, onTransition)
	breaker.now = func() time.Time { return clock.now }
	return breaker, clock
}

func TestBreaker(t *testing.T) {
	config := BreakerConfig{
		FailureThreshold: 3,
		Window:           10 * time.Second,
		Cooldown:         5 * time.Second,
		MaxCooldown:      20 * time.Second,
	}

	t.Run("stays closed below threshold", func(t *testing.T) {
		breaker, _ := newTestBreaker(config, nil)

		breaker.Failure()
		breaker.Failure()
		assert.Equal(t, StateClosed, breaker.State())
		assert.True(t, breaker.Allow())
	})

	t.Run("opens at threshold and rejects", func(t *testing.T) {
		breaker, _ := newTestBreaker(config, nil)

		for i := 0; i < 3; i++ {
			breaker.Failure()
		}
		assert.Equal(t, StateOpen, breaker.State())
		assert.False(t, breaker.Allow())
	})

	t.Run("window expiry forgets old failures", func(t *testing.T) {
		breaker, clock := newTestBreaker(config, nil)

		breaker.Failure()
		breaker.Failure()
		clock.advance(11 * time.Second)
		breaker.Failure()
		assert.Equal(t, StateClosed, breaker.State())
	})

	t.Run("admits exactly one trial after cooldown", func(t *testing.T) {
		breaker, clock := newTestBreaker(config, nil)

		for i := 0; i < 3; i++ {
			breaker.Failure()
		}
		clock.advance(6 * time.Second)

		assert.True(t, breaker.Allow())
		assert.False(t, breaker.Allow(), "second concurrent trial must be rejected")
	})

	t.Run("trial success closes the circuit", func(t *testing.T) {
		breaker, clock := newTestBreaker(config, nil)

		for i := 0; i < 3; i++ {
			breaker.Failure()
		}
		clock.advance(6 * time.Second)
		require.True(t, breaker.Allow())

		breaker.Success()
		assert.Equal(t, StateClosed, breaker.State())
		assert.True(t, breaker.Allow())
	})

	t.Run("trial failure doubles the cooldown", func(t *testing.T) {
		breaker, clock := newTestBreaker(config, nil)

		for i := 0; i < 3; i++ {
			breaker.Failure()
		}
		clock.advance(6 * time.Second)
		require.True(t, breaker.Allow())
		breaker.Failure()

		// Initial cooldown was 5s; it is now 10s.
		clock.advance(6 * time.Second)
		assert.False(t, breaker.Allow())
		clock.advance(5 * time.Second)
		assert.True(t, breaker.Allow())
	})

	t.Run("cooldown growth is capped", func(t *testing.T) {
		breaker, clock := newTestBreaker(config, nil)

		for trip := 0; trip < 6; trip++ {
			for i := 0; i < 3; i++ {
				breaker.Failure()
			}
			clock.advance(time.Minute)
			require.True(t, breaker.Allow())
			breaker.Failure()
			clock.advance(time.Minute)
			require.True(t, breaker.Allow())
			breaker.Success()
		}

		assert.Equal(t, StateClosed, breaker.State())
	})

	t.Run("transitions are reported", func(t *testing.T) {
		var transitions []string
		breaker, clock := newTestBreaker(config, func(provider string, from, to State) {
			transitions = append(transitions, string(from)+"->"+string(to))
		})

		for i := 0; i < 3; i++ {
			breaker.Failure()
		}
		clock.advance(6 * time.Second)
		require.True(t, breaker.Allow())
		breaker.Success()

		assert.Equal(t, []string{
			"closed->open",
			"open->half_open",
			"half_open->closed",
		}, transitions)
	})
}

func TestBreakerSet(t *testing.T) {
	config := BreakerConfig{FailureThreshold: 1, Window: time.Minute, Cooldown: time.Minute, MaxCooldown: time.Minute}

	t.Run("breakers are independent per provider", func(t *testing.T) {
		set := NewBreakerSet(config, nil)

		set.Get("alpha").Failure()
		assert.False(t, set.Healthy("alpha"))
		assert.True(t, set.Healthy("beta"))
	})

	t.Run("unknown provider is healthy", func(t *testing.T) {
		set := NewBreakerSet(config, nil)
		assert.True(t, set.Healthy("never-seen"))
	})

	t.Run("states snapshot", func(t *testing.T) {
		set := NewBreakerSet(config, nil)
		set.Get("alpha").Failure()
		set.Get("beta")

		states := set.States()
		assert.Equal(t, StateOpen, states["alpha"])
		assert.Equal(t, StateClosed, states["beta"])
	})
}
