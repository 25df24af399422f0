package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errProvider = errors.New("provider returned 503")

// fakeClock drives the breaker's half-open timeout.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(opts BreakerOpts) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker(opts)
	b.now = clock.now
	return b, clock
}

func callWith(b *Breaker, err error) error {
	return b.Call(context.Background(), func(context.Context) error { return err })
}

func TestBreakerStateMachine(t *testing.T) {
	tests := []struct {
		name  string
		steps func(b *Breaker, c *fakeClock)
		want  State
	}{
		{"fresh", func(*Breaker, *fakeClock) {}, StateClosed},
		{"below threshold", func(b *Breaker, _ *fakeClock) {
			callWith(b, errProvider)
			callWith(b, errProvider)
		}, StateClosed},
		{"trips at threshold", func(b *Breaker, _ *fakeClock) {
			for i := 0; i < 3; i++ {
				callWith(b, errProvider)
			}
		}, StateOpen},
		{"success resets the count", func(b *Breaker, _ *fakeClock) {
			callWith(b, errProvider)
			callWith(b, errProvider)
			callWith(b, nil)
			callWith(b, errProvider)
			callWith(b, errProvider)
		}, StateClosed},
		{"half-open after timeout", func(b *Breaker, c *fakeClock) {
			for i := 0; i < 3; i++ {
				callWith(b, errProvider)
			}
			c.advance(6 * time.Second)
		}, StateHalfOpen},
		{"trial success closes", func(b *Breaker, c *fakeClock) {
			for i := 0; i < 3; i++ {
				callWith(b, errProvider)
			}
			c.advance(6 * time.Second)
			callWith(b, nil)
		}, StateClosed},
		{"trial failure reopens", func(b *Breaker, c *fakeClock) {
			for i := 0; i < 3; i++ {
				callWith(b, errProvider)
			}
			c.advance(6 * time.Second)
			callWith(b, errProvider)
		}, StateOpen},
		{"cancellation is not a failure", func(b *Breaker, _ *fakeClock) {
			for i := 0; i < 5; i++ {
				callWith(b, context.Canceled)
			}
		}, StateClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, clock := newTestBreaker(BreakerOpts{FailThreshold: 3, Timeout: 5 * time.Second, HalfOpenMax: 1})
			tt.steps(b, clock)
			if got := b.State(); got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOpenBreakerRejectsWithoutCalling(t *testing.T) {
	b, _ := newTestBreaker(BreakerOpts{FailThreshold: 1, Timeout: time.Minute})
	callWith(b, errProvider)

	called := false
	err := b.Call(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("open breaker invoked the provider")
	}
}

func TestCancelledTrialReturnsSlot(t *testing.T) {
	b, clock := newTestBreaker(BreakerOpts{FailThreshold: 1, Timeout: time.Second, HalfOpenMax: 1})
	callWith(b, errProvider)
	clock.advance(2 * time.Second)

	if err := callWith(b, context.Canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v after cancelled trial call", b.State())
	}
	if err := callWith(b, nil); err != nil {
		t.Fatalf("second trial call rejected: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v", b.State())
	}
}

func TestCustomFailureClassifier(t *testing.T) {
	errBadPrompt := errors.New("prompt too long")
	b, _ := newTestBreaker(BreakerOpts{
		FailThreshold: 1,
		IsFailure:     func(err error) bool { return !errors.Is(err, errBadPrompt) },
	})
	callWith(b, errBadPrompt)
	if b.State() != StateClosed {
		t.Fatalf("caller error tripped the breaker")
	}
	callWith(b, errProvider)
	if b.State() != StateOpen {
		t.Errorf("state = %v", b.State())
	}
}

func TestBreakerReportsTransitions(t *testing.T) {
	type change struct{ from, to State }
	var changes []change
	b, clock := newTestBreaker(BreakerOpts{
		Name:          "embedding",
		FailThreshold: 1,
		Timeout:       time.Second,
		OnStateChange: func(name string, from, to State) {
			if name != "embedding" {
				t.Errorf("unexpected breaker name %q", name)
			}
			changes = append(changes, change{from, to})
		},
	})

	callWith(b, errProvider)
	clock.advance(2 * time.Second)
	callWith(b, nil)

	want := []change{{StateClosed, StateOpen}, {StateHalfOpen, StateClosed}}
	if len(changes) != len(want) {
		t.Fatalf("expected %d transitions, got %v", len(want), changes)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, changes[i], want[i])
		}
	}
}

func TestStateString(t *testing.T) {
	if StateHalfOpen.String() != "half-open" || State(9).String() != "unknown" {
		t.Fatal("unexpected state names")
	}
}
