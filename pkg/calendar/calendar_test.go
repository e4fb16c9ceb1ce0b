package calendar

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/korjavin/whosfree/pkg/storage"
)

type fakeChat struct {
	nextID  int
	sent    []string
	deleted []int
}

func (f *fakeChat) SendMessage(chatID int64, text string) (int, error) {
	f.nextID++
	f.sent = append(f.sent, text)
	return f.nextID, nil
}

func (f *fakeChat) EditMessage(chatID int64, messageID int, text string) error { return nil }

func (f *fakeChat) DeleteMessage(chatID int64, messageID int) error {
	f.deleted = append(f.deleted, messageID)
	return nil
}

func newService(t *testing.T) (*Service, *fakeChat) {
	t.Helper()
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	chat := &fakeChat{}
	return New(store, chat), chat
}

func TestEntryLifecycle(t *testing.T) {
	svc, chat := newService(t)
	start := time.Date(2026, time.August, 29, 18, 0, 0, 0, time.UTC)

	id, err := svc.CreateEntry(42, "raid-night", start, 60, "", []int64{1, 2})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Len(t, chat.sent, 1, "entry creation is announced")

	status, err := svc.EntryStatus(id)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, status)

	require.NoError(t, svc.StartEntry(id))
	status, _ = svc.EntryStatus(id)
	assert.Equal(t, StatusActive, status)

	require.NoError(t, svc.EndEntry(id))
	status, _ = svc.EntryStatus(id)
	assert.Equal(t, StatusCompleted, status)
}

func TestEditEntryStart(t *testing.T) {
	svc, _ := newService(t)
	start := time.Date(2026, time.August, 29, 18, 0, 0, 0, time.UTC)

	id, err := svc.CreateEntry(42, "raid-night", start, 60, "", nil)
	require.NoError(t, err)

	moved := start.Add(45 * time.Minute)
	require.NoError(t, svc.EditEntryStart(id, moved))

	entry, err := svc.Get(id)
	require.NoError(t, err)
	assert.True(t, entry.Start.Equal(moved))
}

func TestDeleteEntry(t *testing.T) {
	svc, chat := newService(t)

	id, err := svc.CreateEntry(42, "raid-night", time.Now().Add(time.Hour), 60, "", nil)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteEntry(id))
	assert.Len(t, chat.deleted, 1, "announcement is removed with the entry")

	_, err = svc.Get(id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	// Deleting an already-gone entry is not an error
	require.NoError(t, svc.DeleteEntry(id))
}

func TestLiveEntries(t *testing.T) {
	svc, _ := newService(t)
	start := time.Now().Add(time.Hour)

	scheduled, err := svc.CreateEntry(42, "raid-night", start, 60, "", nil)
	require.NoError(t, err)
	active, err := svc.CreateEntry(42, "movie-night", start, 90, "", nil)
	require.NoError(t, err)
	require.NoError(t, svc.StartEntry(active))
	done, err := svc.CreateEntry(42, "book-club", start, 30, "", nil)
	require.NoError(t, err)
	require.NoError(t, svc.EndEntry(done))

	all, err := svc.List(42)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	other, err := svc.List(99)
	require.NoError(t, err)
	assert.Empty(t, other)

	live, err := svc.LiveEntries()
	require.NoError(t, err)
	require.Len(t, live, 2)

	ids := map[string]bool{}
	for _, info := range live {
		ids[info.ID] = true
	}
	assert.True(t, ids[scheduled])
	assert.True(t, ids[active])
	assert.False(t, ids[done])
}
