// Package auction tracks live countdowns for displayed auctions.
package auction

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// EndedLabel is shown once an auction's end time has passed.
const EndedLabel = "Ended"

// State is the countdown state of one auction.
type State struct {
	Remaining time.Duration `json:"remaining"`
	Label     string        `json:"label"`
	HasEnded  bool          `json:"hasEnded"`
}

// Clock recomputes the remaining time of one auction against a time source.
// Once ended it stays ended; only a fresh catalog load creates a new clock.
type Clock struct {
	end time.Time
	now func() time.Time

	mu    sync.Mutex
	state State
}

// NewClock creates a clock for an auction ending at end. A nil now uses
// time.Now.
func NewClock(end time.Time, now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	c := &Clock{end: end, now: now}
	c.state = c.compute()
	return c
}

// Tick recomputes the state. Ended is terminal.
func (c *Clock) Tick() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.HasEnded {
		return c.state
	}
	c.state = c.compute()
	return c.state
}

// State returns the last computed state.
func (c *Clock) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run ticks every interval until the auction ends or ctx is done. onTick
// may be nil. It returns true only when the countdown crossed the end time
// while running; a clock created after the end returns false at once.
func (c *Clock) Run(ctx context.Context, interval time.Duration, onTick func(State)) bool {
	if s := c.State(); s.HasEnded {
		return false
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			s := c.Tick()
			if onTick != nil {
				onTick(s)
			}
			if s.HasEnded {
				return true
			}
		}
	}
}

func (c *Clock) compute() State {
	remaining := c.end.Sub(c.now())
	if remaining < 0 {
		return State{Label: EndedLabel, HasEnded: true}
	}
	remaining = remaining.Truncate(time.Second)
	return State{
		Remaining: remaining,
		Label:     Label(int64(remaining / time.Second)),
	}
}

// Label formats a non-negative number of seconds as "<d>d <h>h <m>m" when at
// least a day remains, otherwise "<h>h <m>m <s>s".
func Label(secs int64) string {
	days := secs / 86400
	hours := (secs % 86400) / 3600
	minutes := (secs % 3600) / 60
	seconds := secs % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
}
