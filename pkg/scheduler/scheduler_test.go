package scheduler

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/korjavin/whosfree/pkg/availability"
	"github.com/korjavin/whosfree/pkg/calendar"
	"github.com/korjavin/whosfree/pkg/event"
	"github.com/korjavin/whosfree/pkg/snapshot"
	"github.com/korjavin/whosfree/pkg/storage"
	"github.com/korjavin/whosfree/pkg/timeblock"
)

var base = time.Date(2026, time.August, 29, 7, 30, 0, 0, time.Local)

// fakeTransport records every outgoing message
type fakeTransport struct {
	nextID  int
	sent    []string
	edits   int
	deleted []int
}

func (f *fakeTransport) SendMessage(chatID int64, text string) (int, error) {
	f.nextID++
	f.sent = append(f.sent, text)
	return f.nextID, nil
}

func (f *fakeTransport) EditMessage(chatID int64, messageID int, text string) error {
	f.edits++
	return nil
}

func (f *fakeTransport) DeleteMessage(chatID int64, messageID int) error {
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeTransport) countContaining(substr string) int {
	n := 0
	for _, text := range f.sent {
		if strings.Contains(text, substr) {
			n++
		}
	}
	return n
}

// fakeCalendar keeps entries in memory, mirroring the real service's statuses
type fakeCalendar struct {
	nextID  int
	entries map[string]*event.EntryInfo
	created int
	deleted []string
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{entries: make(map[string]*event.EntryInfo)}
}

func (c *fakeCalendar) CreateEntry(chatID int64, name string, start time.Time, durationMin int, imageURL string, attendees []int64) (string, error) {
	c.nextID++
	c.created++
	id := fmt.Sprintf("entry-%d", c.nextID)
	c.entries[id] = &event.EntryInfo{
		ID:          id,
		ChatID:      chatID,
		Name:        name,
		Start:       start,
		DurationMin: durationMin,
		Status:      calendar.StatusScheduled,
		AttendeeIDs: attendees,
	}
	return id, nil
}

func (c *fakeCalendar) EditEntryStart(id string, start time.Time) error {
	if info, ok := c.entries[id]; ok {
		info.Start = start
	}
	return nil
}

func (c *fakeCalendar) EditEntryImage(id string, imageURL string) error { return nil }

func (c *fakeCalendar) StartEntry(id string) error {
	info, ok := c.entries[id]
	if !ok {
		return fmt.Errorf("entry %s not found", id)
	}
	info.Status = calendar.StatusActive
	return nil
}

func (c *fakeCalendar) EndEntry(id string) error {
	info, ok := c.entries[id]
	if !ok {
		return fmt.Errorf("entry %s not found", id)
	}
	info.Status = calendar.StatusCompleted
	return nil
}

func (c *fakeCalendar) DeleteEntry(id string) error {
	delete(c.entries, id)
	c.deleted = append(c.deleted, id)
	return nil
}

func (c *fakeCalendar) EntryStatus(id string) (string, error) {
	info, ok := c.entries[id]
	if !ok {
		return "", fmt.Errorf("entry %s not found", id)
	}
	return info.Status, nil
}

func (c *fakeCalendar) LiveEntries() ([]event.EntryInfo, error) {
	var out []event.EntryInfo
	for _, info := range c.entries {
		if info.Status == calendar.StatusScheduled || info.Status == calendar.StatusActive {
			out = append(out, *info)
		}
	}
	return out, nil
}

type harness struct {
	svc      *Service
	registry *event.Registry
	cal      *fakeCalendar
	chat     *fakeTransport
	snaps    *snapshot.Store
	now      time.Time
}

func newHarness(t *testing.T, timeoutTicks int) *harness {
	t.Helper()
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		registry: event.NewRegistry(),
		cal:      newFakeCalendar(),
		chat:     &fakeTransport{},
		snaps:    snapshot.New(store),
		now:      base,
	}
	h.svc = New(h.registry, h.cal, h.chat, h.snaps, 10, timeoutTicks)
	h.svc.now = func() time.Time { return h.now }
	return h
}

func (h *harness) tickAt(at time.Time) {
	h.now = at
	h.svc.Tick()
}

func answeredEvent(t *testing.T, name string, multi bool, blocks ...timeblock.Block) *event.Event {
	t.Helper()
	e := event.New(name, 42, 0, 0, 1, 60, multi, 100)
	e.AddParticipant(1, "alice")
	e.AddParticipant(2, "bob")
	full := len(blocks) == 0
	if full {
		blocks = availability.FullDay(base)
	}
	require.NoError(t, e.SetAvailability(1, "alice", blocks, full))
	require.NoError(t, e.SetAvailability(2, "bob", blocks, full))
	return e
}

func TestTick_FullLifecycle(t *testing.T) {
	h := newHarness(t, 100)
	e := answeredEvent(t, "raid-night", false)
	e.SetAvailabilityMsg(11)
	require.NoError(t, h.registry.Add(e))

	// Negotiation concludes and the event materializes in one tick
	h.tickAt(base)
	require.Equal(t, event.StatusMaterialized, e.Status())
	assert.Equal(t, 1, h.cal.created)
	assert.Equal(t, []int{11}, h.chat.deleted, "prompt is removed once all answers are in")
	assert.Equal(t, 1, h.chat.countContaining("is scheduled"))

	start := e.StartTimes()[0]
	assert.Equal(t, base.Add(10*time.Minute).Truncate(time.Minute), start)

	// Warning fires exactly once inside the lead window
	h.tickAt(start.Add(-4 * time.Minute))
	h.tickAt(start.Add(-3 * time.Minute))
	assert.Equal(t, 1, h.chat.countContaining("get ready"))

	// Start transition flips the calendar entry to active
	h.tickAt(start)
	assert.Equal(t, event.StatusStarted, e.Status())
	status, err := h.cal.EntryStatus(e.EntryIDs()[0])
	require.NoError(t, err)
	assert.Equal(t, calendar.StatusActive, status)
	assert.Equal(t, 1, h.chat.countContaining("has started"))

	// Started notice is not repeated while the slot runs
	h.tickAt(start.Add(30 * time.Minute))
	assert.Equal(t, 1, h.chat.countContaining("has started"))

	// Past the projected end the slot finishes and the event is destroyed
	entryID := e.EntryIDs()[0]
	h.tickAt(start.Add(61 * time.Minute))
	_, ok := h.registry.Get(42, "raid-night")
	assert.False(t, ok)
	status, err = h.cal.EntryStatus(entryID)
	require.NoError(t, err)
	assert.Equal(t, calendar.StatusCompleted, status)
	assert.Equal(t, 1, h.chat.countContaining("has ended"))
}

func TestTick_CountdownEditedOnlyOnChange(t *testing.T) {
	h := newHarness(t, 100)
	e := answeredEvent(t, "raid-night", false)
	require.NoError(t, h.registry.Add(e))

	// Materializing tick also posts the first countdown message
	h.tickAt(base)
	start := e.StartTimes()[0]
	require.Equal(t, 1, h.chat.countContaining("⏳"))

	h.tickAt(start.Add(-9 * time.Minute))
	assert.Equal(t, 1, h.chat.edits, "existing countdown message is edited in place")
	assert.Equal(t, 1, h.chat.countContaining("⏳"))

	// Same displayed minute: neither a new message nor an edit
	h.tickAt(start.Add(-9 * time.Minute))
	assert.Equal(t, 1, h.chat.edits)

	h.tickAt(start.Add(-8 * time.Minute))
	assert.Equal(t, 2, h.chat.edits)
}

func TestTick_SilentNegotiationTimesOut(t *testing.T) {
	h := newHarness(t, 2)
	e := event.New("raid-night", 42, 0, 0, 1, 60, false, 2)
	e.AddParticipant(1, "alice")
	require.NoError(t, h.registry.Add(e))

	h.tickAt(base)
	_, ok := h.registry.Get(42, "raid-night")
	require.True(t, ok)

	h.tickAt(base.Add(30 * time.Second))
	_, ok = h.registry.Get(42, "raid-night")
	assert.False(t, ok)
	assert.Equal(t, 0, h.cal.created, "a timed-out event never materializes")
	assert.Equal(t, 1, h.chat.countContaining("timed out"))
}

func TestTick_NoCommonAvailabilityCancels(t *testing.T) {
	h := newHarness(t, 100)
	e := event.New("raid-night", 42, 0, 0, 1, 60, false, 100)
	e.AddParticipant(1, "alice")
	e.AddParticipant(2, "bob")
	require.NoError(t, e.SetAvailability(1, "alice", []timeblock.Block{
		{Start: base.Add(time.Hour), End: base.Add(2 * time.Hour)},
	}, false))
	require.NoError(t, e.SetAvailability(2, "bob", []timeblock.Block{
		{Start: base.Add(5 * time.Hour), End: base.Add(6 * time.Hour)},
	}, false))
	require.NoError(t, h.registry.Add(e))

	h.tickAt(base)
	_, ok := h.registry.Get(42, "raid-night")
	assert.False(t, ok)
	assert.Equal(t, 0, h.cal.created)
	assert.Equal(t, 1, h.chat.countContaining("no common availability"))
}

func TestTick_MultiDateMovesToNextSlot(t *testing.T) {
	h := newHarness(t, 100)
	blocks := []timeblock.Block{
		{Start: base.Add(time.Hour), End: base.Add(3 * time.Hour)},
		{Start: base.AddDate(0, 0, 1), End: base.AddDate(0, 0, 1).Add(2 * time.Hour)},
	}
	e := answeredEvent(t, "raid-night", true, blocks...)
	require.NoError(t, h.registry.Add(e))

	h.tickAt(base)
	require.Equal(t, event.StatusMaterialized, e.Status())
	require.Equal(t, 2, h.cal.created)
	starts := e.StartTimes()
	require.Len(t, starts, 2)

	h.tickAt(starts[0])
	require.Equal(t, event.StatusStarted, e.Status())

	// Finishing the first slot keeps the event alive, awaiting the next date
	h.tickAt(starts[0].Add(61 * time.Minute))
	_, ok := h.registry.Get(42, "raid-night")
	require.True(t, ok)
	assert.Equal(t, event.StatusMaterialized, e.Status())
	assert.Equal(t, []time.Time{starts[1]}, e.StartTimes())
	assert.Equal(t, 1, h.chat.countContaining("Next one"))

	h.tickAt(starts[1])
	h.tickAt(starts[1].Add(61 * time.Minute))
	_, ok = h.registry.Get(42, "raid-night")
	assert.False(t, ok)
	assert.Equal(t, 1, h.chat.countContaining("has ended"))
}

func TestTick_AdoptsOrphanCalendarEntry(t *testing.T) {
	h := newHarness(t, 100)
	id, err := h.cal.CreateEntry(42, "pickup", base.Add(2*time.Hour), 60, "", []int64{7})
	require.NoError(t, err)

	h.tickAt(base)

	adopted, ok := h.registry.Get(42, "pickup")
	require.True(t, ok)
	assert.Equal(t, event.StatusMaterialized, adopted.Status())
	assert.True(t, adopted.HasEntry(id))

	// The adopted event keeps living through later ticks
	h.tickAt(base.Add(time.Minute))
	_, ok = h.registry.Get(42, "pickup")
	assert.True(t, ok)
}

func TestTick_DropsEventWhoseEntriesVanished(t *testing.T) {
	h := newHarness(t, 100)
	e := answeredEvent(t, "raid-night", false)
	require.NoError(t, h.registry.Add(e))
	h.tickAt(base)
	require.Equal(t, event.StatusMaterialized, e.Status())

	// Somebody deleted the calendar entry out from under the bot
	for id := range h.cal.entries {
		delete(h.cal.entries, id)
	}

	h.tickAt(base.Add(time.Minute))
	_, ok := h.registry.Get(42, "raid-night")
	assert.False(t, ok)
	assert.Equal(t, 1, h.chat.countContaining("calendar entry was removed"))
}

func TestTick_PersistsSnapshot(t *testing.T) {
	h := newHarness(t, 100)
	e := answeredEvent(t, "raid-night", false)
	require.NoError(t, h.registry.Add(e))

	h.tickAt(base)

	snap, err := h.snaps.Load()
	require.NoError(t, err)
	require.Len(t, snap.Events, 1)
	assert.Equal(t, "raid-night", snap.Events[0].Name)
	assert.True(t, snap.Events[0].Created)
}

func TestTick_ConflictShiftPropagatesToCalendar(t *testing.T) {
	h := newHarness(t, 100)

	running := answeredEvent(t, "raid-night", false)
	require.NoError(t, h.registry.Add(running))
	h.tickAt(base)
	start := running.StartTimes()[0]
	h.tickAt(start)
	require.Equal(t, event.StatusStarted, running.Status())

	// A pending event sharing alice must start after the running one ends
	pending := event.New("movie-night", 42, 0, 0, 1, 60, false, 100)
	pending.AddParticipant(1, "alice")
	require.NoError(t, pending.SetAvailability(1, "alice", []timeblock.Block{
		{Start: start.Add(10 * time.Minute), End: start.Add(8 * time.Hour)},
	}, false))
	require.NoError(t, h.registry.Add(pending))

	h.tickAt(start.Add(time.Minute))
	require.Equal(t, event.StatusMaterialized, pending.Status())

	projEnd := start.Add(60 * time.Minute)
	h.tickAt(start.Add(2 * time.Minute))
	assert.Equal(t, projEnd, pending.StartTimes()[0])
	assert.Equal(t, projEnd, h.cal.entries[pending.EntryIDs()[0]].Start)
}
