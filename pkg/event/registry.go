package event

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the collection of live scheduling requests. It is the single
// lookup point the state machine and control loop share; events never hold
// back-references to each other.
type Registry struct {
	mu     sync.Mutex
	events map[string]*Event
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{events: make(map[string]*Event)}
}

func registryKey(chatID int64, name string) string {
	return fmt.Sprintf("%d:%s", chatID, name)
}

// Add registers a live event. At most one live event per name may exist
// within a chat.
func (r *Registry) Add(e *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := registryKey(e.ChatID, e.Name)
	if _, exists := r.events[key]; exists {
		return fmt.Errorf("an event named %q already exists in this chat", e.Name)
	}
	r.events[key] = e
	return nil
}

// Remove drops an event from the registry and returns it
func (r *Registry) Remove(chatID int64, name string) (*Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := registryKey(chatID, name)
	e, ok := r.events[key]
	if ok {
		delete(r.events, key)
	}
	return e, ok
}

// Get looks up a live event by chat and name
func (r *Registry) Get(chatID int64, name string) (*Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[registryKey(chatID, name)]
	return e, ok
}

// All returns a snapshot of the live events
func (r *Registry) All() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Event, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChatID != out[j].ChatID {
			return out[i].ChatID < out[j].ChatID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Negotiating returns the chat's events still collecting answers
func (r *Registry) Negotiating(chatID int64) []*Event {
	var out []*Event
	for _, e := range r.All() {
		if e.ChatID == chatID && e.Status() == StatusNegotiating {
			out = append(out, e)
		}
	}
	return out
}

// FindByEntry returns the event owning the given calendar entry
func (r *Registry) FindByEntry(entryID string) (*Event, bool) {
	for _, e := range r.All() {
		if e.HasEntry(entryID) {
			return e, true
		}
	}
	return nil, false
}

// AdjustConflicts pushes the pending start of every not-yet-started event
// that shares a venue or a participant with a running event to at least the
// running event's projected end, chaining across multiple conflicting
// events in start-time order so reservations never overlap.
func (r *Registry) AdjustConflicts() {
	events := r.All()
	for _, running := range events {
		if running.Status() != StatusStarted {
			continue
		}
		projectedEnd, ok := running.ProjectedEnd()
		if !ok {
			continue
		}
		memberIDs := running.ParticipantIDs()

		var conflicting []*Event
		for _, e := range events {
			if e == running || e.Status() == StatusStarted {
				continue
			}
			starts := e.StartTimes()
			if len(starts) == 0 {
				continue
			}
			sharesVenue := running.VenueID != 0 && e.VenueID == running.VenueID
			if sharesVenue || e.SharesMembers(memberIDs) {
				conflicting = append(conflicting, e)
			}
		}
		sort.Slice(conflicting, func(i, j int) bool {
			return conflicting[i].StartTimes()[0].Before(conflicting[j].StartTimes()[0])
		})

		cursor := projectedEnd
		for _, e := range conflicting {
			adjusted, _ := e.PushStartTo(cursor)
			if adjusted.IsZero() {
				continue
			}
			cursor = adjusted.Add(e.Duration())
		}
	}
}
