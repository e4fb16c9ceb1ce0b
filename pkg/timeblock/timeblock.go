// Package timeblock provides the half-open time interval value type used
// throughout the scheduler and the pure intersection functions that compute
// common availability across participants.
package timeblock

import (
	"fmt"
	"sort"
	"time"
)

// Block is an immutable half-open time interval [Start, End)
type Block struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// New creates a new Block, enforcing Start < End
func New(start, end time.Time) (Block, error) {
	if !start.Before(end) {
		return Block{}, fmt.Errorf("invalid time block: start %s is not before end %s", start, end)
	}
	return Block{Start: start, End: end}, nil
}

// Duration returns the length of the block
func (b Block) Duration() time.Duration {
	return b.End.Sub(b.Start)
}

// Contains reports whether t lies within the block (Start inclusive, End exclusive)
func (b Block) Contains(t time.Time) bool {
	return !t.Before(b.Start) && t.Before(b.End)
}

// Covers reports whether the block fully contains the interval [start, start+d)
func (b Block) Covers(start time.Time, d time.Duration) bool {
	return !start.Before(b.Start) && !start.Add(d).After(b.End)
}

// Intersects reports whether two blocks share any instant
func (b Block) Intersects(o Block) bool {
	return maxTime(b.Start, o.Start).Before(minTime(b.End, o.End))
}

// Intersect returns the overlap of two blocks, if any
func (b Block) Intersect(o Block) (Block, bool) {
	start := maxTime(b.Start, o.Start)
	end := minTime(b.End, o.End)
	if !start.Before(end) {
		return Block{}, false
	}
	return Block{Start: start, End: end}, true
}

// Normalize sorts blocks ascending by start and merges overlapping or
// touching blocks, so the result is non-overlapping and start-ascending.
// The input slice is not modified.
func Normalize(blocks []Block) []Block {
	if len(blocks) == 0 {
		return nil
	}

	sorted := make([]Block, len(blocks))
	copy(sorted, blocks)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	merged := []Block{sorted[0]}
	for _, b := range sorted[1:] {
		last := &merged[len(merged)-1]
		if !b.Start.After(last.End) {
			// Overlapping or adjacent blocks collapse into one
			if b.End.After(last.End) {
				last.End = b.End
			}
			continue
		}
		merged = append(merged, b)
	}

	return merged
}

// IntersectSets computes the maximal set of non-overlapping intervals
// present in both inputs, sorted ascending. The operation is commutative
// and associative. Inputs are expected to be normalized.
func IntersectSets(a, b []Block) []Block {
	var result []Block
	for _, blockA := range a {
		for _, blockB := range b {
			if overlap, ok := blockA.Intersect(blockB); ok {
				result = append(result, overlap)
			}
		}
	}
	return Normalize(result)
}

// IntersectAll folds IntersectSets left-to-right over all operands.
// A single operand is returned as-is; any empty operand annihilates the
// result.
func IntersectAll(sets ...[]Block) []Block {
	if len(sets) == 0 {
		return nil
	}

	result := Normalize(sets[0])
	for _, set := range sets[1:] {
		if len(result) == 0 {
			return nil
		}
		result = IntersectSets(result, set)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// SameDate reports whether two instants fall on the same calendar date
// in the process-local timezone.
func SameDate(a, b time.Time) bool {
	al, bl := a.Local(), b.Local()
	return al.Year() == bl.Year() && al.YearDay() == bl.YearDay()
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
