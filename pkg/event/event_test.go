package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/korjavin/whosfree/pkg/availability"
	"github.com/korjavin/whosfree/pkg/timeblock"
)

const grace = 10 * time.Minute

var now = time.Date(2026, time.August, 29, 7, 30, 0, 0, time.Local)

func localTime(day, hour, min int) time.Time {
	return time.Date(2026, time.August, day, hour, min, 0, 0, time.Local)
}

func newEvent(t *testing.T, multi bool) *Event {
	t.Helper()
	return New("raid-night", 42, 0, 0, 1, 60, multi, 10)
}

func answer(t *testing.T, e *Event, memberID int64, username, text string) {
	t.Helper()
	resp, err := availability.Parse(text, now)
	require.NoError(t, err)
	e.AddParticipant(memberID, username)
	switch resp.Kind {
	case availability.KindClear:
		require.NoError(t, e.SetNone(memberID, username))
	default:
		require.NoError(t, e.SetAvailability(memberID, username, resp.Blocks, resp.Kind == availability.KindFull))
	}
}

func TestCompare_FastPathImmediacyWins(t *testing.T) {
	e := newEvent(t, false)
	answer(t, e, 1, "alice", "full")
	answer(t, e, 2, "bob", "full")

	require.True(t, e.AllAnswered())
	e.CompareAvailabilities(now, grace)

	require.Equal(t, StatusReady, e.Status())
	starts := e.StartTimes()
	require.Len(t, starts, 1)
	// Immediacy wins over any earlier-in-the-day common slot
	assert.Equal(t, now.Add(grace).Truncate(time.Minute), starts[0])
}

func TestCompare_IntersectionExample(t *testing.T) {
	e := newEvent(t, false)
	etNow := time.Date(2026, time.August, 29, 5, 0, 0, 0, time.FixedZone("ET", -5*3600))

	alice, err := availability.Parse("8-11, 15-17 ET", etNow)
	require.NoError(t, err)
	bob, err := availability.Parse("9-12 ET", etNow)
	require.NoError(t, err)
	e.AddParticipant(1, "alice")
	e.AddParticipant(2, "bob")
	require.NoError(t, e.SetAvailability(1, "alice", alice.Blocks, false))
	require.NoError(t, e.SetAvailability(2, "bob", bob.Blocks, false))

	// Nobody is free at now+grace, so the intersection walk decides
	e.CompareAvailabilities(etNow, grace)

	require.Equal(t, StatusReady, e.Status())
	starts := e.StartTimes()
	require.Len(t, starts, 1)
	want := time.Date(2026, time.August, 29, 9, 0, 0, 0, time.FixedZone("ET", -5*3600))
	assert.True(t, starts[0].Equal(want), "got %s, want %s", starts[0], want)
}

func TestCompare_MultiDateOneSlotPerDate(t *testing.T) {
	e := newEvent(t, true)
	// Jointly free on three distinct dates, twice on the first one
	shared := []timeblock.Block{
		{Start: localTime(30, 8, 0), End: localTime(30, 12, 0)},
		{Start: localTime(30, 18, 0), End: localTime(30, 20, 0)},
		{Start: localTime(31, 8, 0), End: localTime(31, 12, 0)},
	}
	sep1 := func(hour int) timeblock.Block {
		return timeblock.Block{
			Start: time.Date(2026, time.September, 1, hour, 0, 0, 0, time.Local),
			End:   time.Date(2026, time.September, 1, 12, 0, 0, 0, time.Local),
		}
	}
	e.AddParticipant(1, "alice")
	e.AddParticipant(2, "bob")
	e.AddParticipant(3, "carol")
	require.NoError(t, e.SetAvailability(1, "alice", append(shared, sep1(9)), false))
	require.NoError(t, e.SetAvailability(2, "bob", append(shared[:len(shared):len(shared)], sep1(8)), false))
	require.NoError(t, e.SetAvailability(3, "carol", append(shared[:len(shared):len(shared)], sep1(8)), false))
	require.True(t, e.AllAnswered())

	e.CompareAvailabilities(now, grace)
	require.Equal(t, StatusReady, e.Status())

	starts := e.StartTimes()
	require.Len(t, starts, 3)
	assert.Equal(t, localTime(30, 8, 0), starts[0])
	assert.Equal(t, localTime(31, 8, 0), starts[1])
	assert.Equal(t, time.Date(2026, time.September, 1, 9, 0, 0, 0, time.Local), starts[2])
	for i := 1; i < len(starts); i++ {
		assert.True(t, starts[i-1].Before(starts[i]), "start times must ascend")
	}
}

func TestCompare_NoCommonAvailability(t *testing.T) {
	e := newEvent(t, false)
	answer(t, e, 1, "alice", "8-9")
	answer(t, e, 2, "bob", "20-22")

	e.CompareAvailabilities(now, grace)
	assert.Equal(t, StatusUnresolved, e.Status())
	assert.Equal(t, ReasonNoCommon, e.UnresolvedReason())
	assert.Empty(t, e.StartTimes())
}

func TestCompare_TooShortBlockRejected(t *testing.T) {
	e := newEvent(t, false) // needs 60 minutes
	answer(t, e, 1, "alice", "9-10")
	answer(t, e, 2, "bob", "930-11")

	// Intersection [9:30, 10:00) is only 30 minutes
	e.CompareAvailabilities(now, grace)
	assert.Equal(t, StatusUnresolved, e.Status())
}

func TestWithdraw_LatchesUnavailable(t *testing.T) {
	e := newEvent(t, false)
	answer(t, e, 2, "bob", "full")
	answer(t, e, 1, "alice", "none")

	assert.Equal(t, StatusUnresolved, e.Status())
	assert.Equal(t, ReasonWithdrawn, e.UnresolvedReason())

	// Unavailable blocks slot acceptance entirely
	e.CompareAvailabilities(now, grace)
	assert.Empty(t, e.StartTimes())
	assert.Equal(t, StatusUnresolved, e.Status())
}

func TestStaleAnswerReopened(t *testing.T) {
	e := newEvent(t, false)
	answer(t, e, 1, "alice", "8-10")
	require.True(t, e.AllAnswered())

	// bob's availability extends past alice's last block
	answer(t, e, 2, "bob", "8-22")
	assert.False(t, e.AllAnswered(), "alice must be asked again")

	answer(t, e, 1, "alice", "8-22")
	assert.True(t, e.AllAnswered())
}

func TestFullAvailabilityNotReopened(t *testing.T) {
	e := newEvent(t, false)
	answer(t, e, 1, "alice", "full")
	answer(t, e, 2, "bob", "8-23")
	assert.True(t, e.AllAnswered())
}

func TestUnsubscribeLastParticipantWithdraws(t *testing.T) {
	e := newEvent(t, false)
	e.AddParticipant(1, "alice")
	e.AddParticipant(2, "bob")

	require.NoError(t, e.Unsubscribe(1, "alice"))
	assert.Equal(t, StatusNegotiating, e.Status())

	require.NoError(t, e.Unsubscribe(2, "bob"))
	assert.Equal(t, StatusUnresolved, e.Status())
}

func TestCancelVoteMajority(t *testing.T) {
	e := newEvent(t, false)
	e.AddParticipant(1, "alice")
	e.AddParticipant(2, "bob")
	e.AddParticipant(3, "carol")

	_, err := e.ToggleCancelVote(1, "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusNegotiating, e.Status())

	_, err = e.ToggleCancelVote(2, "bob")
	require.NoError(t, err)
	assert.Equal(t, StatusUnresolved, e.Status())
}

func TestTimeoutSkipsTouchedTick(t *testing.T) {
	e := New("raid-night", 42, 0, 0, 1, 60, false, 2)
	e.AddParticipant(1, "alice")

	// An answer this tick counts as activity: no decrement
	require.NoError(t, e.SetAvailability(1, "alice", availability.FullDay(now), true))
	assert.False(t, e.DecrementTimeout())
	assert.False(t, e.DecrementTimeout())
	assert.True(t, e.DecrementTimeout())
	assert.Equal(t, StatusUnresolved, e.Status())
	assert.Equal(t, ReasonTimedOut, e.UnresolvedReason())
}

func TestReschedule_ResetsNegotiation(t *testing.T) {
	e := newEvent(t, false)
	answer(t, e, 1, "alice", "full")
	answer(t, e, 2, "bob", "full")
	e.CompareAvailabilities(now, grace)
	e.AppendEntry("entry-1")
	require.Equal(t, StatusMaterialized, e.Status())

	orphaned := e.Reschedule(10)
	assert.Equal(t, []string{"entry-1"}, orphaned)
	assert.Equal(t, StatusNegotiating, e.Status())
	assert.Empty(t, e.StartTimes())
	assert.Empty(t, e.EntryIDs())
	assert.False(t, e.AllAnswered(), "answers are reopened")
}

func TestWarningLatchFiresOnce(t *testing.T) {
	e := newEvent(t, false)
	answer(t, e, 1, "alice", "full")
	answer(t, e, 2, "bob", "full")
	e.CompareAvailabilities(now, grace)
	e.AppendEntry("entry-1")

	start := e.StartTimes()[0]
	assert.False(t, e.ClaimWarning(start.Add(-6*time.Minute), 5*time.Minute))
	assert.True(t, e.ClaimWarning(start.Add(-4*time.Minute), 5*time.Minute))
	assert.False(t, e.ClaimWarning(start.Add(-3*time.Minute), 5*time.Minute), "warning must fire exactly once")
}

func TestSlotLifecycle(t *testing.T) {
	e := newEvent(t, false)
	answer(t, e, 1, "alice", "full")
	answer(t, e, 2, "bob", "full")
	e.CompareAvailabilities(now, grace)
	e.AppendEntry("entry-1")

	start := e.StartTimes()[0]

	_, due := e.DueStart(start.Add(-time.Minute))
	assert.False(t, due)

	id, due := e.DueStart(start)
	require.True(t, due)
	assert.Equal(t, "entry-1", id)
	e.MarkStarted()
	assert.Equal(t, StatusStarted, e.Status())

	_, due = e.DueEnd(start.Add(30 * time.Minute))
	assert.False(t, due)
	id, due = e.DueEnd(start.Add(61 * time.Minute))
	require.True(t, due)
	assert.Equal(t, "entry-1", id)

	assert.False(t, e.FinishSlot(), "single-slot event has nothing left")
}

func TestExplicitEndRequest(t *testing.T) {
	e := newEvent(t, false)
	answer(t, e, 1, "alice", "full")
	answer(t, e, 2, "bob", "full")
	e.CompareAvailabilities(now, grace)
	e.AppendEntry("entry-1")
	e.MarkStarted()

	start := e.StartTimes()[0]
	_, due := e.DueEnd(start.Add(time.Minute))
	assert.False(t, due)

	e.RequestEnd()
	_, due = e.DueEnd(start.Add(time.Minute))
	assert.True(t, due)
}

func TestOpenEnrollment(t *testing.T) {
	e := newEvent(t, false)
	e.SetOpenEnrollment([]string{"mallory"})

	require.NoError(t, e.SetAvailability(5, "dave", availability.FullDay(now), true))
	assert.Len(t, e.ParticipantNames(), 1)

	err := e.SetAvailability(6, "mallory", availability.FullDay(now), true)
	require.Error(t, err)
}

func TestRecordRoundTrip(t *testing.T) {
	e := newEvent(t, true)
	answer(t, e, 1, "alice", "8-11, 15-17")
	answer(t, e, 2, "bob", "9-12")
	e.CompareAvailabilities(now, grace)
	e.AppendEntry("entry-1")
	e.SetAvailabilityMsg(100)
	e.SetResponseMsg(101)
	e.SetControlMsg(102)

	rec := e.Record()
	restored, err := FromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, rec, restored.Record())
}

func TestFromRecord_RejectsBadRecords(t *testing.T) {
	rec := newEvent(t, false).Record()
	rec.ChatID = 0
	_, err := FromRecord(rec)
	require.Error(t, err)

	rec = newEvent(t, false).Record()
	rec.Name = ""
	_, err = FromRecord(rec)
	require.Error(t, err)

	rec = newEvent(t, false).Record()
	rec.StartTimes = []string{"not-a-time"}
	_, err = FromRecord(rec)
	require.Error(t, err)

	rec = newEvent(t, false).Record()
	rec.Created = true
	rec.StartTimes = []string{now.UTC().Format(time.RFC3339)}
	_, err = FromRecord(rec)
	require.Error(t, err, "materialized record must pair every start with an entry")
}

func TestBlocksNormalizedOnAnswer(t *testing.T) {
	e := newEvent(t, false)
	e.AddParticipant(1, "alice")
	blocks := []timeblock.Block{
		{Start: localTime(29, 15, 0), End: localTime(29, 17, 0)},
		{Start: localTime(29, 8, 0), End: localTime(29, 11, 0)},
		{Start: localTime(29, 10, 0), End: localTime(29, 12, 0)},
	}
	require.NoError(t, e.SetAvailability(1, "alice", blocks, false))

	rec := e.Record()
	require.Len(t, rec.Participants, 1)
	assert.Len(t, rec.Participants[0].Availability, 2)
}
