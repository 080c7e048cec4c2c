package clockalign

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ now float64 }

func (c *fakeClock) seconds() float64 { return c.now }

func TestAlign_FirstSampleAnchorsOnNow(t *testing.T) {
	clock := &fakeClock{now: 100}
	a := New[string](clock.seconds)

	assert.Equal(t, 100.0, a.Align("imu", 5, true))

	clock.now = 100.5
	assert.InDelta(t, 100.25, a.Align("imu", 5.25, true), 1e-9)
	assert.Equal(t, 1, a.Len())
}

func TestAlign_StrictlyIncreasing(t *testing.T) {
	clock := &fakeClock{now: 10}
	a := New[string](clock.seconds)

	first := a.Align("k", 1.0, true)
	repeat := a.Align("k", 1.0, true)
	backwards := a.Align("k", 0.5, true)

	assert.InDelta(t, first+DefaultEpsilon, repeat, 1e-12)
	assert.InDelta(t, repeat+DefaultEpsilon, backwards, 1e-12)

	forward := a.Align("k", 2.0, true)
	assert.InDelta(t, 11.0, forward, 1e-9)
}

func TestAlign_MissingSensorTime(t *testing.T) {
	clock := &fakeClock{now: 7}
	a := New[string](clock.seconds)

	assert.Equal(t, 7.0, a.AlignPtr("k", nil))
	assert.Equal(t, 0, a.Len(), "missing sensor time must not anchor")

	ts := 3.0
	assert.Equal(t, 7.0, a.AlignPtr("k", &ts))
	assert.Equal(t, 1, a.Len())
}

func TestAlign_KeysAreIndependent(t *testing.T) {
	clock := &fakeClock{now: 1}
	a := New[int](clock.seconds)

	a.Align(1, 1000, true)
	clock.now = 2
	assert.Equal(t, 2.0, a.Align(2, 0, true))
	assert.InDelta(t, 1.5, a.Align(1, 1000.5, true), 1e-9)
}

func TestForget(t *testing.T) {
	clock := &fakeClock{now: 1}
	a := New[string](clock.seconds)
	a.Align("k", 50, true)
	a.Forget("k")

	clock.now = 9
	assert.Equal(t, 9.0, a.Align("k", 51, true))
}

func TestAlign_CustomEpsilonAndZeroValue(t *testing.T) {
	clock := &fakeClock{now: 0}
	a := &Aligner[string]{Now: clock.seconds}

	a.Align("k", 1, true)
	assert.InDelta(t, DefaultEpsilon, a.Align("k", 1, true), 1e-12)

	a.Epsilon = 0.5
	assert.InDelta(t, DefaultEpsilon+0.5, a.Align("k", 1, true), 1e-12)
}

func TestAlign_Concurrent(t *testing.T) {
	clock := &fakeClock{now: 0}
	a := New[int](clock.seconds)

	var wg sync.WaitGroup
	for k := 0; k < 8; k++ {
		wg.Add(1)
		go func(key int) {
			defer wg.Done()
			prev := -1.0
			for i := 0; i < 100; i++ {
				got := a.Align(key, 0, true)
				if got <= prev {
					t.Errorf("key %d: %v not greater than %v", key, got, prev)
				}
				prev = got
			}
		}(k)
	}
	wg.Wait()
	assert.Equal(t, 8, a.Len())
}
