// Package clockalign rebases sensor-relative timestamps onto a local clock.
package clockalign

import "sync"

// DefaultEpsilon is the smallest step between two aligned timestamps of the
// same key.
const DefaultEpsilon = 1e-6

type anchor struct {
	localZero  float64
	sensorZero float64
	last       float64
}

// Aligner maps sensor timestamps (in seconds) onto Now, keeping one anchor per
// key. Output for a key is strictly increasing: a repeated or backwards sensor
// timestamp yields the previous output plus Epsilon.
type Aligner[K comparable] struct {
	// Now returns the local clock in seconds.
	Now func() float64
	// Epsilon defaults to DefaultEpsilon when zero.
	Epsilon float64

	mu      sync.Mutex
	anchors map[K]*anchor
}

// New returns an Aligner on the given local clock.
func New[K comparable](now func() float64) *Aligner[K] {
	return &Aligner[K]{Now: now, Epsilon: DefaultEpsilon}
}

// Align returns the local timestamp for a sample of key taken at sensorSeconds.
// When ok is false the sample has no sensor time; Now is returned and the
// anchor is left alone.
func (a *Aligner[K]) Align(key K, sensorSeconds float64, ok bool) float64 {
	now := a.Now()
	if !ok {
		return now
	}

	eps := a.Epsilon
	if eps <= 0 {
		eps = DefaultEpsilon
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.anchors == nil {
		a.anchors = make(map[K]*anchor)
	}

	st, found := a.anchors[key]
	if !found {
		a.anchors[key] = &anchor{localZero: now, sensorZero: sensorSeconds, last: now}
		return now
	}

	aligned := st.localZero + (sensorSeconds - st.sensorZero)
	if aligned <= st.last {
		aligned = st.last + eps
	}
	st.last = aligned
	return aligned
}

// AlignPtr is Align for an optional sensor time.
func (a *Aligner[K]) AlignPtr(key K, sensorSeconds *float64) float64 {
	if sensorSeconds == nil {
		return a.Align(key, 0, false)
	}
	return a.Align(key, *sensorSeconds, true)
}

// Forget drops the anchor for key so its next sample re-anchors on Now.
func (a *Aligner[K]) Forget(key K) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.anchors, key)
}

// Len returns the number of anchored keys.
func (a *Aligner[K]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.anchors)
}
