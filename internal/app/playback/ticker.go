package playback

import (
	"sync"
	"time"
)

// Tick is produced by a Ticker on every fire.
type Tick struct {
	TickerID uint64 // Identifies the ticker that fired
	Elapsed  int    // Elapsed seconds after this fire
	Line     string // Rendered progress line
}

// ClockFunc creates a periodic time source and its stop function.
type ClockFunc func(interval time.Duration) (<-chan time.Time, func())

// SystemClock is the default ClockFunc backed by time.Ticker.
func SystemClock(interval time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(interval)
	return t.C, t.Stop
}

// TickerConfig holds the parameters of a single progress ticker.
type TickerConfig struct {
	ID       uint64        // Ticker identity copied into every Tick
	Start    int           // Elapsed seconds to resume from
	Duration int           // Track duration in seconds, 0 if unknown
	Interval time.Duration // Fire cadence
	BarWidth int           // Progress bar cells
	Clock    ClockFunc     // Time source (SystemClock if nil)
}

// Ticker is a periodic elapsed-time producer bound to one playing track.
// With a known duration it never reports more than the duration and stops
// itself once the duration is reached.
type Ticker struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// StartTicker starts a ticker that delivers ticks to out until stopped.
func StartTicker(cfg TickerConfig, out chan<- Tick) *Ticker {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}

	t := &Ticker{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	if cfg.Duration > 0 && cfg.Start >= cfg.Duration {
		close(t.done)
		return t
	}

	fires, stopClock := cfg.Clock(cfg.Interval)
	go t.run(cfg, fires, stopClock, out)
	return t
}

func (t *Ticker) run(cfg TickerConfig, fires <-chan time.Time, stopClock func(), out chan<- Tick) {
	defer close(t.done)
	defer stopClock()

	elapsed := cfg.Start
	for {
		select {
		case <-t.stop:
			return
		case <-fires:
		}

		elapsed++
		reached := false
		if cfg.Duration > 0 && elapsed >= cfg.Duration {
			elapsed = cfg.Duration
			reached = true
		}

		tick := Tick{
			TickerID: cfg.ID,
			Elapsed:  elapsed,
			Line:     RenderProgress(elapsed, cfg.Duration, cfg.BarWidth),
		}
		select {
		case out <- tick:
		case <-t.stop:
			return
		}

		if reached {
			return
		}
	}
}

// Stop cancels the ticker and waits until it can no longer fire.
// Stopping a nil, stopped, or finished ticker is a no-op.
func (t *Ticker) Stop() {
	if t == nil {
		return
	}
	t.stopOnce.Do(func() {
		close(t.stop)
	})
	<-t.done
}

// Done is closed once the ticker has stopped firing.
func (t *Ticker) Done() <-chan struct{} {
	return t.done
}
