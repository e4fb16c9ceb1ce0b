// Package event implements the scheduling request aggregate: participants,
// the lifecycle state machine that turns answered availability into start
// times, the registry of live requests, and the dispatcher for user actions.
package event

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/korjavin/whosfree/pkg/models"
	"github.com/korjavin/whosfree/pkg/timeblock"
)

// Status is the lifecycle state derived from an event's flags
type Status string

const (
	// StatusNegotiating means not every subscribed participant has answered yet
	StatusNegotiating Status = "negotiating"
	// StatusReady means start times are accepted but not yet materialized
	StatusReady Status = "ready"
	// StatusMaterialized means calendar entries exist for every start time
	StatusMaterialized Status = "materialized"
	// StatusStarted means the current slot is running
	StatusStarted Status = "started"
	// StatusUnresolved means the event cannot proceed and will be cancelled
	StatusUnresolved Status = "unresolved"
)

// Reason explains why an event became unresolved
type Reason string

const (
	ReasonTimedOut  Reason = "timed out waiting for answers"
	ReasonNoCommon  Reason = "no common availability"
	ReasonWithdrawn Reason = "a participant withdrew"
)

// Event is one group scheduling request: the aggregate root owning its
// participants, accepted start times and lifecycle flags. All fields are
// guarded by mu and accessed through methods.
type Event struct {
	mu sync.Mutex

	Name        string
	ChatID      int64
	ThreadID    int
	VenueID     int64
	InitiatorID int64
	ImageURL    string

	participants []*Participant

	durationMin int
	multiEvent  bool

	// startTimes, entryIDs and warningsSent are parallel; entryIDs may lag
	// behind startTimes until materialization completes
	startTimes   []time.Time
	entryIDs     []string
	warningsSent []bool

	readyToCreate bool
	created       bool
	started       bool
	changed       bool
	unavailable   bool

	timeoutCounter int
	reason         Reason

	availabilityMsgID int
	responseMsgID     int
	controlMsgID      int

	// Transient state, deliberately not persisted
	touched        bool
	endRequested   bool
	lastCountdown  int
	openEnrollment bool
	excluded       map[string]bool
}

// New creates a scheduling request in the negotiating state
func New(name string, chatID int64, threadID int, venueID, initiatorID int64, durationMin int, multiEvent bool, timeoutTicks int) *Event {
	return &Event{
		Name:           name,
		ChatID:         chatID,
		ThreadID:       threadID,
		VenueID:        venueID,
		InitiatorID:    initiatorID,
		durationMin:    durationMin,
		multiEvent:     multiEvent,
		timeoutCounter: timeoutTicks,
		lastCountdown:  -1,
	}
}

// Adopt builds a materialized event from a live calendar entry that has no
// local counterpart, recovering its participants from the attendee list.
func Adopt(info EntryInfo, timeoutTicks int) *Event {
	e := New(info.Name, info.ChatID, 0, 0, 0, info.DurationMin, false, timeoutTicks)
	e.startTimes = []time.Time{info.Start}
	e.entryIDs = []string{info.ID}
	e.warningsSent = []bool{false}
	e.created = true
	e.started = info.Status == "active"
	for _, id := range info.AttendeeIDs {
		e.participants = append(e.participants, &Participant{
			MemberID:   id,
			Answered:   true,
			Subscribed: true,
		})
	}
	return e
}

// Status derives the lifecycle state from the event's flags
func (e *Event) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

func (e *Event) statusLocked() Status {
	switch {
	case e.unavailable:
		return StatusUnresolved
	case e.started:
		return StatusStarted
	case e.created:
		return StatusMaterialized
	case e.readyToCreate:
		return StatusReady
	default:
		return StatusNegotiating
	}
}

// Duration returns the requested slot length
func (e *Event) Duration() time.Duration {
	return time.Duration(e.durationMin) * time.Minute
}

// MultiEvent reports whether the request searches for one slot per date
func (e *Event) MultiEvent() bool {
	return e.multiEvent
}

// UnresolvedReason returns the user-visible reason an event cannot proceed
func (e *Event) UnresolvedReason() Reason {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reason == "" {
		return ReasonNoCommon
	}
	return e.reason
}

// SetOpenEnrollment lets anyone in the chat enroll by answering, except the
// listed usernames (exclude mode of the trigger protocol).
func (e *Event) SetOpenEnrollment(excludedUsernames []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.openEnrollment = true
	e.excluded = make(map[string]bool, len(excludedUsernames))
	for _, u := range excludedUsernames {
		e.excluded[strings.ToLower(u)] = true
	}
}

// AddParticipant registers a participant by username before their member ID
// is known. Adding an existing username is a no-op.
func (e *Event) AddParticipant(memberID int64, username string) *Participant {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p := e.findLocked(memberID, username); p != nil {
		return p
	}
	p := &Participant{MemberID: memberID, Username: username, Subscribed: true}
	e.participants = append(e.participants, p)
	return p
}

// findLocked locates a participant by member ID, falling back to username
// for participants added before their ID was known.
func (e *Event) findLocked(memberID int64, username string) *Participant {
	for _, p := range e.participants {
		if memberID != 0 && p.MemberID == memberID {
			return p
		}
	}
	if username == "" {
		return nil
	}
	for _, p := range e.participants {
		if strings.EqualFold(p.Username, username) {
			// First interaction fills in the member ID
			if p.MemberID == 0 {
				p.MemberID = memberID
			}
			return p
		}
	}
	return nil
}

// resolveLocked finds the acting participant, enrolling them when the event
// accepts open enrollment.
func (e *Event) resolveLocked(memberID int64, username string) (*Participant, error) {
	if p := e.findLocked(memberID, username); p != nil {
		return p, nil
	}
	if !e.openEnrollment {
		return nil, fmt.Errorf("%s is not a participant of %q", username, e.Name)
	}
	if e.excluded[strings.ToLower(username)] {
		return nil, fmt.Errorf("%s is excluded from %q", username, e.Name)
	}
	p := &Participant{MemberID: memberID, Username: username, Subscribed: true}
	e.participants = append(e.participants, p)
	return p, nil
}

// SetAvailability records a participant's answered time blocks. An earlier
// answer whose availability ends before this one's last block is reopened so
// staggered responses do not conclude negotiation early.
func (e *Event) SetAvailability(memberID int64, username string, blocks []timeblock.Block, full bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.resolveLocked(memberID, username)
	if err != nil {
		return err
	}

	p.Availability = timeblock.Normalize(blocks)
	p.Answered = true
	p.FullAvailability = full
	e.touched = true

	e.reopenStaleAnswersLocked(p)
	return nil
}

// reopenStaleAnswersLocked resets answered participants whose trailing
// availability ends before the latest answer's last block.
func (e *Event) reopenStaleAnswersLocked(latest *Participant) {
	latestEnd := latest.lastEnd()
	for _, p := range e.participants {
		if p == latest || !p.Subscribed || !p.Answered || p.FullAvailability {
			continue
		}
		if len(p.Availability) == 0 {
			continue
		}
		if p.lastEnd().Before(latestEnd) {
			p.Answered = false
		}
	}
}

// SetNone records an empty availability, which withdraws consent and latches
// the event unavailable.
func (e *Event) SetNone(memberID int64, username string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.resolveLocked(memberID, username)
	if err != nil {
		return err
	}

	p.Availability = nil
	p.Answered = true
	p.FullAvailability = false
	e.unavailable = true
	e.reason = ReasonWithdrawn
	e.touched = true
	return nil
}

// Unsubscribe removes a participant from the negotiation without blocking it
func (e *Event) Unsubscribe(memberID int64, username string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.resolveLocked(memberID, username)
	if err != nil {
		return err
	}

	p.Subscribed = false
	p.Answered = true
	e.touched = true

	if !e.openEnrollment && e.subscribedCountLocked() == 0 {
		e.unavailable = true
		e.reason = ReasonWithdrawn
	}
	return nil
}

// ToggleCancelVote flips a participant's cancellation vote. A strict
// majority of subscribed participants voting cancel latches the event
// unavailable.
func (e *Event) ToggleCancelVote(memberID int64, username string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.resolveLocked(memberID, username)
	if err != nil {
		return false, err
	}

	p.Cancelling = !p.Cancelling
	e.touched = true

	votes, subscribed := 0, 0
	for _, q := range e.participants {
		if !q.Subscribed {
			continue
		}
		subscribed++
		if q.Cancelling {
			votes++
		}
	}
	if subscribed > 0 && votes*2 > subscribed {
		e.unavailable = true
		e.reason = ReasonWithdrawn
	}
	return p.Cancelling, nil
}

// MarkCancelled latches the event unavailable (explicit cancel action)
func (e *Event) MarkCancelled() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unavailable = true
	e.reason = ReasonWithdrawn
}

func (e *Event) subscribedCountLocked() int {
	n := 0
	for _, p := range e.participants {
		if p.Subscribed {
			n++
		}
	}
	return n
}

// AllAnswered reports whether every subscribed participant has answered.
// An event with no subscribed participants is never considered answered.
func (e *Event) AllAnswered() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.subscribedCountLocked() == 0 {
		return false
	}
	for _, p := range e.participants {
		if p.Subscribed && !p.Answered {
			return false
		}
	}
	return true
}

// ParticipantIDs returns the member IDs of all subscribed participants
func (e *Event) ParticipantIDs() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []int64
	for _, p := range e.participants {
		if p.Subscribed && p.MemberID != 0 {
			ids = append(ids, p.MemberID)
		}
	}
	return ids
}

// ParticipantNames returns the usernames of all subscribed participants
func (e *Event) ParticipantNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var names []string
	for _, p := range e.participants {
		if p.Subscribed && p.Username != "" {
			names = append(names, p.Username)
		}
	}
	return names
}

// MarkTouched flags activity so this tick's timeout sweep skips the event
func (e *Event) MarkTouched() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.touched = true
}

// DecrementTimeout consumes one tick of the negotiation timeout. Events
// modified since the previous tick are skipped once. Returns true when the
// counter reaches zero.
func (e *Event) DecrementTimeout() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.touched {
		e.touched = false
		return false
	}
	e.timeoutCounter--
	if e.timeoutCounter <= 0 {
		e.unavailable = true
		e.reason = ReasonTimedOut
		return true
	}
	return false
}

// acceptStartLocked inserts a start time keeping ascending order, with its
// warning latch cleared.
func (e *Event) acceptStartLocked(start time.Time) {
	e.startTimes = append(e.startTimes, start)
	e.warningsSent = append(e.warningsSent, false)
	sort.Slice(e.startTimes, func(i, j int) bool {
		return e.startTimes[i].Before(e.startTimes[j])
	})
}

func (e *Event) hasStartOnDateLocked(t time.Time) bool {
	for _, s := range e.startTimes {
		if timeblock.SameDate(s, t) {
			return true
		}
	}
	return false
}

// StartTimes returns a copy of the accepted start times
func (e *Event) StartTimes() []time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]time.Time, len(e.startTimes))
	copy(out, e.startTimes)
	return out
}

// EntryIDs returns a copy of the materialized calendar entry IDs
func (e *Event) EntryIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.entryIDs))
	copy(out, e.entryIDs)
	return out
}

// PendingStarts returns the start times that still lack a calendar entry
func (e *Event) PendingStarts() []time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.entryIDs) >= len(e.startTimes) {
		return nil
	}
	out := make([]time.Time, len(e.startTimes)-len(e.entryIDs))
	copy(out, e.startTimes[len(e.entryIDs):])
	return out
}

// AppendEntry records one successfully created calendar entry. When every
// start time has an entry the event becomes materialized.
func (e *Event) AppendEntry(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entryIDs = append(e.entryIDs, id)
	if len(e.entryIDs) == len(e.startTimes) {
		e.created = true
		e.readyToCreate = false
	}
}

// HasEntry reports whether the event owns the given calendar entry
func (e *Event) HasEntry(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, own := range e.entryIDs {
		if own == id {
			return true
		}
	}
	return false
}

// PruneMissingEntries drops materialized slots whose calendar entry no
// longer resolves and returns how many slots remain.
func (e *Event) PruneMissingEntries(exists func(id string) bool) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	var starts []time.Time
	var ids []string
	var warned []bool
	for i, id := range e.entryIDs {
		if !exists(id) {
			continue
		}
		ids = append(ids, id)
		starts = append(starts, e.startTimes[i])
		warned = append(warned, e.warningsSent[i])
	}
	// Start times beyond the materialized prefix have no entry to resolve
	for i := len(e.entryIDs); i < len(e.startTimes); i++ {
		starts = append(starts, e.startTimes[i])
		warned = append(warned, e.warningsSent[i])
	}
	e.entryIDs = ids
	e.startTimes = starts
	e.warningsSent = warned
	return len(e.startTimes)
}

// ClaimWarning latches and returns true when the pre-start warning for the
// current slot is due and has not fired yet.
func (e *Event) ClaimWarning(now time.Time, lead time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.created || e.started || len(e.startTimes) == 0 {
		return false
	}
	if e.warningsSent[0] || now.Before(e.startTimes[0].Add(-lead)) {
		return false
	}
	e.warningsSent[0] = true
	return true
}

// DueStart reports whether the current slot should start now and returns
// its calendar entry ID.
func (e *Event) DueStart(now time.Time) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.created || e.started || len(e.startTimes) == 0 || len(e.entryIDs) == 0 {
		return "", false
	}
	if now.Before(e.startTimes[0]) {
		return "", false
	}
	return e.entryIDs[0], true
}

// MarkStarted advances the current slot to the started state
func (e *Event) MarkStarted() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.created && len(e.startTimes) > 0 {
		e.started = true
	}
}

// RequestEnd asks for the running slot to be ended on the next tick
func (e *Event) RequestEnd() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.endRequested = true
}

// DueEnd reports whether the running slot should end now and returns its
// calendar entry ID.
func (e *Event) DueEnd(now time.Time) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started || len(e.startTimes) == 0 {
		return "", false
	}
	if !e.endRequested && now.Before(e.startTimes[0].Add(e.Duration())) {
		return "", false
	}
	id := ""
	if len(e.entryIDs) > 0 {
		id = e.entryIDs[0]
	}
	return id, true
}

// FinishSlot pops the consumed slot. Returns true when more slots remain
// (the multi-date case), in which case the event goes back to awaiting its
// next start.
func (e *Event) FinishSlot() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.startTimes) > 0 {
		e.startTimes = e.startTimes[1:]
		e.warningsSent = e.warningsSent[1:]
	}
	if len(e.entryIDs) > 0 {
		e.entryIDs = e.entryIDs[1:]
	}
	e.started = false
	e.endRequested = false
	e.lastCountdown = -1
	return len(e.startTimes) > 0
}

// ProjectedEnd returns the running slot's expected end time
func (e *Event) ProjectedEnd() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.startTimes) == 0 {
		return time.Time{}, false
	}
	return e.startTimes[0].Add(e.Duration()), true
}

// PushStartTo defers the earliest pending start to at least floor. Returns
// the adjusted start and whether a change was made.
func (e *Event) PushStartTo(floor time.Time) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started || len(e.startTimes) == 0 {
		return time.Time{}, false
	}
	if !e.startTimes[0].Before(floor) {
		return e.startTimes[0], false
	}
	e.startTimes[0] = floor
	e.changed = true
	return floor, true
}

// SharesMembers reports whether any subscribed participant appears in ids
func (e *Event) SharesMembers(ids []int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.participants {
		if !p.Subscribed || p.MemberID == 0 {
			continue
		}
		for _, id := range ids {
			if p.MemberID == id {
				return true
			}
		}
	}
	return false
}

// ConsumeChanged clears and returns the changed flag together with the
// current slot's entry ID and start time, for propagating a conflict shift
// to the calendar entry.
func (e *Event) ConsumeChanged() (string, time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.changed || len(e.startTimes) == 0 {
		return "", time.Time{}, false
	}
	e.changed = false
	if len(e.entryIDs) == 0 {
		return "", e.startTimes[0], false
	}
	return e.entryIDs[0], e.startTimes[0], true
}

// CountdownMinutes returns the whole minutes until the next start and
// whether the value changed since the last call (so the countdown message
// is only edited when its text would differ).
func (e *Event) CountdownMinutes(now time.Time) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.created || e.started || len(e.startTimes) == 0 {
		return 0, false
	}
	minutes := int(e.startTimes[0].Sub(now).Minutes())
	if minutes < 0 {
		minutes = 0
	}
	if minutes == e.lastCountdown {
		return minutes, false
	}
	e.lastCountdown = minutes
	return minutes, true
}

// Reschedule clears all slot data, reopens every participant's answer and
// restarts the timeout counter, returning the calendar entries to delete.
func (e *Event) Reschedule(timeoutTicks int) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	orphaned := e.entryIDs
	e.startTimes = nil
	e.entryIDs = nil
	e.warningsSent = nil
	e.readyToCreate = false
	e.created = false
	e.started = false
	e.changed = false
	e.endRequested = false
	e.lastCountdown = -1
	e.timeoutCounter = timeoutTicks
	e.touched = true
	for _, p := range e.participants {
		p.Answered = !p.Subscribed
		p.Cancelling = false
	}
	return orphaned
}

// Message ID accessors. TakeAvailabilityMsg zeroes the prompt ID so the
// prompt is invalidated exactly once.

func (e *Event) SetAvailabilityMsg(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.availabilityMsgID = id
}

func (e *Event) TakeAvailabilityMsg() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.availabilityMsgID
	e.availabilityMsgID = 0
	return id
}

func (e *Event) AvailabilityMsg() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.availabilityMsgID
}

func (e *Event) SetResponseMsg(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.responseMsgID = id
}

func (e *Event) ResponseMsg() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.responseMsgID
}

func (e *Event) SetControlMsg(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.controlMsgID = id
}

func (e *Event) ControlMsg() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.controlMsgID
}

// Record converts the event to its persisted form
func (e *Event) Record() models.EventRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := models.EventRecord{
		Name:              e.Name,
		ChatID:            e.ChatID,
		ThreadID:          e.ThreadID,
		VenueID:           e.VenueID,
		InitiatorID:       e.InitiatorID,
		AvailabilityMsgID: e.availabilityMsgID,
		ResponseMsgID:     e.responseMsgID,
		ControlMsgID:      e.controlMsgID,
		ImageURL:          e.ImageURL,
		ReadyToCreate:     e.readyToCreate,
		Created:           e.created,
		Started:           e.started,
		Changed:           e.changed,
		Unavailable:       e.unavailable,
		MultiEvent:        e.multiEvent,
		Duration:          e.durationMin,
		TimeoutCounter:    e.timeoutCounter,
	}
	rec.EntryIDs = append(rec.EntryIDs, e.entryIDs...)
	rec.WarningsSent = append(rec.WarningsSent, e.warningsSent...)
	for _, t := range e.startTimes {
		rec.StartTimes = append(rec.StartTimes, t.UTC().Format(time.RFC3339))
	}
	for _, p := range e.participants {
		rec.Participants = append(rec.Participants, p.record())
	}
	return rec
}

// FromRecord rebuilds an event from its persisted form
func FromRecord(rec models.EventRecord) (*Event, error) {
	if rec.Name == "" {
		return nil, fmt.Errorf("event record has no name")
	}
	if rec.ChatID == 0 {
		return nil, fmt.Errorf("event %q has no chat id", rec.Name)
	}
	if len(rec.WarningsSent) != 0 && len(rec.WarningsSent) != len(rec.StartTimes) {
		return nil, fmt.Errorf("event %q has %d warning flags for %d start times", rec.Name, len(rec.WarningsSent), len(rec.StartTimes))
	}
	if rec.Created && len(rec.EntryIDs) != len(rec.StartTimes) {
		return nil, fmt.Errorf("event %q is materialized with %d entries for %d start times", rec.Name, len(rec.EntryIDs), len(rec.StartTimes))
	}

	e := New(rec.Name, rec.ChatID, rec.ThreadID, rec.VenueID, rec.InitiatorID, rec.Duration, rec.MultiEvent, rec.TimeoutCounter)
	e.ImageURL = rec.ImageURL
	e.availabilityMsgID = rec.AvailabilityMsgID
	e.responseMsgID = rec.ResponseMsgID
	e.controlMsgID = rec.ControlMsgID
	e.readyToCreate = rec.ReadyToCreate
	e.created = rec.Created
	e.started = rec.Started
	e.changed = rec.Changed
	e.unavailable = rec.Unavailable
	e.entryIDs = append(e.entryIDs, rec.EntryIDs...)
	e.warningsSent = append(e.warningsSent, rec.WarningsSent...)

	for _, s := range rec.StartTimes {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("event %q has invalid start time %q: %w", rec.Name, s, err)
		}
		e.startTimes = append(e.startTimes, t)
	}
	if len(e.warningsSent) == 0 && len(e.startTimes) > 0 {
		e.warningsSent = make([]bool, len(e.startTimes))
	}

	for _, pr := range rec.Participants {
		p, err := participantFromRecord(pr)
		if err != nil {
			return nil, fmt.Errorf("event %q has invalid participant %d: %w", rec.Name, pr.MemberID, err)
		}
		e.participants = append(e.participants, p)
	}
	return e, nil
}
