package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/korjavin/whosfree/pkg/calendar"
	"github.com/korjavin/whosfree/pkg/event"
	"github.com/korjavin/whosfree/pkg/logger"
	"github.com/korjavin/whosfree/pkg/messages"
	"github.com/korjavin/whosfree/pkg/snapshot"
)

// warningLead is how long before a slot starts the one-time warning fires
const warningLead = 5 * time.Minute

// Service drives every live scheduling request through its lifecycle
type Service struct {
	registry     *event.Registry
	cal          event.Calendar
	chat         event.Transport
	snap         *snapshot.Store
	logger       *logger.Logger
	cron         *cron.Cron
	grace        time.Duration
	timeoutTicks int
	now          func() time.Time
}

// New creates the control loop service
func New(registry *event.Registry, cal event.Calendar, chat event.Transport, snap *snapshot.Store, graceMinutes, timeoutTicks int) *Service {
	return &Service{
		registry:     registry,
		cal:          cal,
		chat:         chat,
		snap:         snap,
		logger:       logger.New("scheduler"),
		grace:        time.Duration(graceMinutes) * time.Minute,
		timeoutTicks: timeoutTicks,
		now:          time.Now,
	}
}

// Start begins the periodic tick. SkipIfStillRunning guarantees a tick is
// never re-entered while the previous one is outstanding.
func (s *Service) Start(tickSeconds int) error {
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %ds", tickSeconds), s.Tick)
	if err != nil {
		return fmt.Errorf("failed to schedule tick: %w", err)
	}
	s.cron.Start()
	s.logger.Info("Control loop started with a %ds tick", tickSeconds)
	return nil
}

// Stop halts the tick and waits for an in-flight tick to finish
func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.logger.Info("Control loop stopped")
}

// Tick runs one pass of the control loop
func (s *Service) Tick() {
	now := s.now()

	s.reconcileCalendar()
	s.expireTimeouts()
	s.evaluateNegotiations(now)
	s.driveLifecycles(now)
	s.Persist()
}

// Persist writes the snapshot of all live events
func (s *Service) Persist() {
	if err := s.snap.Save(s.registry.All()); err != nil {
		s.logger.Error("Failed to persist snapshot: %v", err)
	}
}

// reconcileCalendar aligns the registry with the live calendar listing:
// live entries without a local event are adopted, and materialized events
// whose entries all disappeared without a terminal transition are dropped.
func (s *Service) reconcileCalendar() {
	entries, err := s.cal.LiveEntries()
	if err != nil {
		s.logger.Error("Failed to list calendar entries: %v", err)
		return
	}

	live := make(map[string]bool, len(entries))
	for _, info := range entries {
		live[info.ID] = true
		if _, ok := s.registry.FindByEntry(info.ID); ok {
			continue
		}
		adopted := event.Adopt(info, s.timeoutTicks)
		if err := s.registry.Add(adopted); err != nil {
			s.logger.Warn("Cannot adopt calendar entry %s: %v", info.ID, err)
			continue
		}
		s.logger.Info("Adopted calendar entry %s as event %q", info.ID, info.Name)
	}

	for _, e := range s.registry.All() {
		ids := e.EntryIDs()
		if len(ids) == 0 {
			continue
		}
		remaining := e.PruneMissingEntries(func(id string) bool { return live[id] })
		if remaining == 0 {
			s.registry.Remove(e.ChatID, e.Name)
			s.logger.Info("Event %q dropped: its calendar entries disappeared", e.Name)
			s.notify(e, messages.CancelledNotice(e.Name, "its calendar entry was removed"))
			s.cleanupMessages(e)
		}
	}
}

// expireTimeouts decrements the negotiation timeout of every event not
// touched since the previous tick and evicts the ones that ran out. An
// answer arriving later in the same tick cannot resurrect an evicted event.
func (s *Service) expireTimeouts() {
	for _, e := range s.registry.All() {
		if e.Status() != event.StatusNegotiating {
			continue
		}
		if e.DecrementTimeout() {
			s.logger.Info("Event %q timed out", e.Name)
			s.cancel(e)
		}
	}
}

// evaluateNegotiations runs the state machine for every negotiating event
// whose subscribed participants have all answered, and evicts events that
// became unresolved.
func (s *Service) evaluateNegotiations(now time.Time) {
	for _, e := range s.registry.All() {
		switch e.Status() {
		case event.StatusUnresolved:
			s.cancel(e)
			continue
		case event.StatusNegotiating:
		default:
			continue
		}

		if !e.AllAnswered() {
			continue
		}

		// Invalidate the prompt: every answer is in
		if msgID := e.TakeAvailabilityMsg(); msgID != 0 {
			if err := s.chat.DeleteMessage(e.ChatID, msgID); err != nil {
				s.logger.Error("Failed to delete prompt for %q: %v", e.Name, err)
			}
		}

		e.CompareAvailabilities(now, s.grace)

		switch e.Status() {
		case event.StatusUnresolved:
			s.cancel(e)
		case event.StatusReady:
			s.notify(e, messages.ScheduledNotice(e.Name, e.StartTimes()))
		}
	}
}

// driveLifecycles materializes ready events and walks materialized and
// started ones through warning, start and end transitions. Latched per-slot
// flags keep every side effect idempotent within and across ticks.
func (s *Service) driveLifecycles(now time.Time) {
	s.registry.AdjustConflicts()

	for _, e := range s.registry.All() {
		if len(e.PendingStarts()) > 0 && e.Status() != event.StatusNegotiating {
			s.materialize(e)
		}

		if id, start, ok := e.ConsumeChanged(); ok {
			if err := s.cal.EditEntryStart(id, start); err != nil {
				s.logger.Error("Failed to move calendar entry %s for %q: %v", id, e.Name, err)
			}
		}

		switch e.Status() {
		case event.StatusMaterialized:
			if e.ClaimWarning(now, warningLead) {
				s.notify(e, messages.StartWarning(e.Name, int(warningLead.Minutes())))
			}
			s.updateCountdown(e, now)
			if id, due := e.DueStart(now); due {
				status, err := s.cal.EntryStatus(id)
				if err != nil {
					s.logger.Error("Failed to check calendar entry %s for %q: %v", id, e.Name, err)
					continue
				}
				if status == calendar.StatusScheduled {
					e.MarkStarted()
				}
			}
		}

		if e.Status() == event.StatusStarted {
			s.syncStartedEntry(e)
			if id, due := e.DueEnd(now); due {
				s.finishSlot(e, id)
			}
		}
	}
}

// materialize creates one calendar entry per accepted start time that does
// not have one yet. A creation failure is logged and retried next tick.
func (s *Service) materialize(e *event.Event) {
	for _, start := range e.PendingStarts() {
		id, err := s.cal.CreateEntry(e.ChatID, e.Name, start, int(e.Duration().Minutes()), e.ImageURL, e.ParticipantIDs())
		if err != nil {
			s.logger.Error("Failed to create calendar entry for %q: %v", e.Name, err)
			return
		}
		e.AppendEntry(id)
	}
}

// syncStartedEntry aligns the calendar entry of a started event, covering
// both the due-time transition and the explicit start action.
func (s *Service) syncStartedEntry(e *event.Event) {
	ids := e.EntryIDs()
	if len(ids) == 0 {
		return
	}
	status, err := s.cal.EntryStatus(ids[0])
	if err != nil || status != calendar.StatusScheduled {
		return
	}
	if err := s.cal.StartEntry(ids[0]); err != nil {
		s.logger.Error("Failed to start calendar entry %s for %q: %v", ids[0], e.Name, err)
		return
	}
	s.notify(e, messages.StartedNotice(e.Name))
}

// finishSlot ends the running slot; a multi-date event returns to awaiting
// its next start, otherwise the event is destroyed.
func (s *Service) finishSlot(e *event.Event, entryID string) {
	if entryID != "" {
		if err := s.cal.EndEntry(entryID); err != nil {
			s.logger.Error("Failed to end calendar entry %s for %q: %v", entryID, e.Name, err)
		}
	}

	if e.FinishSlot() {
		if starts := e.StartTimes(); len(starts) > 0 {
			s.notify(e, messages.NextSlotNotice(e.Name, starts[0]))
		}
		return
	}

	s.registry.Remove(e.ChatID, e.Name)
	s.notify(e, messages.EndedNotice(e.Name))
	s.cleanupMessages(e)
	s.logger.Info("Event %q ended", e.Name)
}

// cancel evicts an unresolved event: calendar entries are deleted,
// participants are notified with the distinct reason, and tracked messages
// are removed.
func (s *Service) cancel(e *event.Event) {
	if _, ok := s.registry.Remove(e.ChatID, e.Name); !ok {
		return
	}
	for _, id := range e.EntryIDs() {
		if err := s.cal.DeleteEntry(id); err != nil {
			s.logger.Error("Failed to delete calendar entry %s for %q: %v", id, e.Name, err)
		}
	}
	s.notify(e, messages.CancelledNotice(e.Name, string(e.UnresolvedReason())))
	s.cleanupMessages(e)
	s.logger.Info("Event %q cancelled: %s", e.Name, e.UnresolvedReason())
}

// updateCountdown keeps the countdown message current, editing it only when
// the displayed minute count changed.
func (s *Service) updateCountdown(e *event.Event, now time.Time) {
	minutes, changed := e.CountdownMinutes(now)
	if !changed {
		return
	}
	text := messages.Countdown(e.Name, minutes)
	if msgID := e.ControlMsg(); msgID != 0 {
		if err := s.chat.EditMessage(e.ChatID, msgID, text); err == nil {
			return
		}
		// The message is gone; recreate it below
		e.SetControlMsg(0)
	}
	msgID, err := s.chat.SendMessage(e.ChatID, text)
	if err != nil {
		s.logger.Error("Failed to send countdown for %q: %v", e.Name, err)
		return
	}
	e.SetControlMsg(msgID)
}

// notify sends a message to the event's chat, mentioning the participants
func (s *Service) notify(e *event.Event, text string) {
	if names := e.ParticipantNames(); len(names) > 0 {
		mentions := make([]string, 0, len(names))
		for _, n := range names {
			mentions = append(mentions, "@"+n)
		}
		text = text + "\n" + strings.Join(mentions, " ")
	}
	if msgID, err := s.chat.SendMessage(e.ChatID, text); err != nil {
		s.logger.Error("Failed to notify chat %d about %q: %v", e.ChatID, e.Name, err)
	} else {
		e.SetResponseMsg(msgID)
	}
}

// cleanupMessages removes the bot's tracked messages for a finished event
func (s *Service) cleanupMessages(e *event.Event) {
	if msgID := e.TakeAvailabilityMsg(); msgID != 0 {
		if err := s.chat.DeleteMessage(e.ChatID, msgID); err != nil {
			s.logger.Error("Failed to delete prompt for %q: %v", e.Name, err)
		}
	}
	if msgID := e.ControlMsg(); msgID != 0 {
		if err := s.chat.DeleteMessage(e.ChatID, msgID); err != nil {
			s.logger.Error("Failed to delete countdown for %q: %v", e.Name, err)
		}
		e.SetControlMsg(0)
	}
}
