package service

import (
	"math"
	"sync"
	"time"
)

// Clock abstracts time for the call timer.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) NewTicker(d time.Duration) Ticker {
	return &systemTicker{t: time.NewTicker(d)}
}

type systemTicker struct{ t *time.Ticker }

func (s *systemTicker) C() <-chan time.Time { return s.t.C }
func (s *systemTicker) Stop()               { s.t.Stop() }

// SystemClock is backed by package time. Its readings carry the monotonic
// clock, so elapsed time is immune to wall clock jumps.
var SystemClock Clock = systemClock{}

const tickPeriod = time.Second

// CallTimer counts whole seconds since Start. Elapsed time is always derived
// from the start instant, never by counting ticks, so late or dropped ticks
// do not drift the counter.
type CallTimer struct {
	clock Clock

	mu      sync.Mutex
	start   time.Time
	running bool
	stopped bool
	final   int
	quit    chan struct{}
}

func NewCallTimer(clock Clock) *CallTimer {
	if clock == nil {
		clock = SystemClock
	}
	return &CallTimer{clock: clock}
}

// Start captures the start instant and calls onTick with the elapsed seconds
// once per period until Stop. A timer can only be started once.
func (t *CallTimer) Start(onTick func(elapsed int)) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running || t.stopped {
		return t.start
	}
	t.start = t.clock.Now()
	t.running = true
	t.quit = make(chan struct{})

	ticker := t.clock.NewTicker(tickPeriod)
	go t.run(ticker, t.quit, onTick)
	return t.start
}

func (t *CallTimer) run(ticker Ticker, quit <-chan struct{}, onTick func(int)) {
	defer ticker.Stop()
	for {
		select {
		case <-quit:
			return
		case <-ticker.C():
			select {
			case <-quit:
				return
			default:
			}
			if onTick != nil {
				onTick(t.Elapsed())
			}
		}
	}
}

// Stop halts ticking and returns the final elapsed seconds. It does not wait
// for an in-flight tick callback. Safe to call more than once.
func (t *CallTimer) Stop() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return t.final
	}
	t.final = t.elapsedLocked()
	t.running = false
	t.stopped = true
	close(t.quit)
	return t.final
}

func (t *CallTimer) Elapsed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return t.final
	}
	return t.elapsedLocked()
}

func (t *CallTimer) elapsedLocked() int {
	d := t.clock.Now().Sub(t.start)
	if d <= 0 {
		return 0
	}
	return int(math.Floor(d.Seconds()))
}
