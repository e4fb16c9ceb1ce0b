package event

import (
	"time"

	"github.com/korjavin/whosfree/pkg/timeblock"
)

// CompareAvailabilities runs the slot search over all subscribed answers.
//
// The fast path checks whether everyone is free at now+grace for the full
// duration; immediacy wins over any later common slot, and for a
// single-slot event the search stops there. Otherwise the intersection of
// all availabilities is walked in ascending order, accepting at most one
// start per calendar date (and only the first for a single-slot event).
// When nothing is accepted the event becomes unresolved.
func (e *Event) CompareAvailabilities(now time.Time, grace time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.unavailable {
		return
	}

	var sets [][]timeblock.Block
	for _, p := range e.participants {
		if p.Subscribed {
			sets = append(sets, p.Availability)
		}
	}
	if len(sets) == 0 {
		e.unavailable = true
		e.reason = ReasonWithdrawn
		return
	}

	duration := e.Duration()
	earliest := now.Add(grace).Truncate(time.Minute)
	accepted := false

	immediate := true
	for _, p := range e.participants {
		if p.Subscribed && !p.availableFor(earliest, duration) {
			immediate = false
			break
		}
	}
	if immediate {
		e.acceptStartLocked(earliest)
		accepted = true
		if !e.multiEvent {
			e.readyToCreate = true
			return
		}
	}

	for _, block := range timeblock.IntersectAll(sets...) {
		// A block already underway is only usable from now+grace onward
		start := block.Start
		if start.Before(earliest) {
			start = earliest
		}
		if block.End.Sub(start) < duration {
			continue
		}
		if e.hasStartOnDateLocked(start) {
			continue
		}
		e.acceptStartLocked(start)
		accepted = true
		if !e.multiEvent {
			break
		}
	}

	if !accepted {
		e.unavailable = true
		e.reason = ReasonNoCommon
		return
	}
	e.readyToCreate = true
}
