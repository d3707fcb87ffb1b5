package input

import (
	"fmt"
	"sync"
	"time"

	appLog "midiboy/internal/log"
)

const (
	// DebounceInterval is the quiet time a button needs after its last
	// accepted edge before another edge is accepted.
	DebounceInterval = 50 * time.Millisecond

	// RepeatDelay is how long a button must be held before auto-repeat arms.
	RepeatDelay = 300 * time.Millisecond

	// DefaultRepeatInterval is the auto-repeat cadence after arming.
	DefaultRepeatInterval = 300 * time.Millisecond

	// MinRepeatInterval is the lower bound SetRepeatInterval clamps to. It
	// may be shorter than DebounceInterval: a pending release suspends
	// repeats, so the release is accepted once the debounce window closes.
	MinRepeatInterval = 10 * time.Millisecond
)

// Source samples the raw button levels. Bit i of the returned mask is the
// level of Button(i); only RawMask bits are considered.
type Source interface {
	// Configure prepares the pins as pulled-up inputs.
	Configure() error
	// Read returns the current raw levels.
	Read() (uint8, error)
}

// Clock returns the current time. It exists so tests can drive timing.
type Clock func() time.Time

// Manager debounces raw samples from a Source and queues Events.
//
// It is safe to call Pop and the read-only accessors from a different
// goroutine than Update.
type Manager struct {
	src Source
	now Clock

	mu             sync.Mutex
	state          uint8 // 1 = released
	repeating      uint8
	last           [ButtonCount]time.Time
	repeatInterval time.Duration
	events         queue
	dropped        uint64
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.now = c }
}

// WithRepeatInterval sets the initial auto-repeat cadence.
func WithRepeatInterval(d time.Duration) Option {
	return func(m *Manager) { m.repeatInterval = clampRepeat(d) }
}

// NewManager returns a Manager reading from src. Init must be called before
// the first Update.
func NewManager(src Source, opts ...Option) *Manager {
	m := &Manager{
		src:            src,
		now:            time.Now,
		state:          RawMask,
		repeatInterval: DefaultRepeatInterval,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Init configures the pins, takes the initial sample as the accepted state
// and stamps every button with the current time.
func (m *Manager) Init() error {
	if err := m.src.Configure(); err != nil {
		return fmt.Errorf("input: configure pins: %w", err)
	}
	raw, err := m.src.Read()
	if err != nil {
		return fmt.Errorf("input: initial read: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = raw & RawMask
	m.repeating = 0
	now := m.now()
	for i := range m.last {
		m.last[i] = now
	}
	return nil
}

// SetRepeatInterval changes the auto-repeat cadence for all buttons.
// Values below MinRepeatInterval are raised to it.
func (m *Manager) SetRepeatInterval(d time.Duration) {
	m.mu.Lock()
	m.repeatInterval = clampRepeat(d)
	m.mu.Unlock()
}

// RepeatInterval returns the current auto-repeat cadence.
func (m *Manager) RepeatInterval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repeatInterval
}

func clampRepeat(d time.Duration) time.Duration {
	if d < MinRepeatInterval {
		return MinRepeatInterval
	}
	return d
}

// Update samples the source once, queues debounced edges and advances the
// auto-repeat state of held buttons. It never blocks on the queue: events that
// do not fit are dropped and counted.
func (m *Manager) Update() error {
	raw, err := m.src.Read()
	if err != nil {
		return fmt.Errorf("input: read: %w", err)
	}
	raw &= RawMask

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	if diff := raw ^ m.state; diff != 0 {
		for i := Button(0); i < ButtonCount; i++ {
			bit := i.bit()
			if diff&bit == 0 || now.Sub(m.last[i]) < DebounceInterval {
				continue
			}
			kind := Down
			if raw&bit != 0 {
				kind = Up
			}
			m.push(Event{Button: i, Kind: kind})
			m.last[i] = now
			m.state ^= bit
			if kind == Up {
				m.repeating &^= bit
			}
		}
	}

	// Edges still differing from the accepted state were debounce-gated
	// above; those buttons do not repeat this tick.
	gated := raw ^ m.state
	for i := Button(0); i < ButtonCount; i++ {
		bit := i.bit()
		if m.state&bit != 0 || gated&bit != 0 {
			continue
		}
		elapsed := now.Sub(m.last[i])
		if m.repeating&bit == 0 {
			if elapsed >= RepeatDelay {
				m.repeating |= bit
				m.last[i] = now
			}
			continue
		}
		if elapsed >= m.repeatInterval {
			m.push(Event{Button: i, Kind: Down})
			m.last[i] = now
		}
	}
	return nil
}

func (m *Manager) push(e Event) {
	if m.events.push(e) {
		return
	}
	m.dropped++
	appLog.Debug("input queue full, event dropped", "event", e, "dropped", m.dropped)
}

// Pop removes and returns the oldest queued event. ok is false when the queue
// is empty.
func (m *Manager) Pop() (e Event, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events.pop()
}

// Len returns the number of queued events.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events.len()
}

// Pressed reports the debounced state of b.
func (m *Manager) Pressed(b Button) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state&b.bit() == 0
}

// Repeating reports whether b is held long enough to auto-repeat.
func (m *Manager) Repeating(b Button) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repeating&b.bit() != 0
}

// Dropped returns how many events were lost to a full queue.
func (m *Manager) Dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}
