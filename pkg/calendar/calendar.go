// Package calendar provides the scheduled-entry service. Entries are the
// external source of truth the reconciler checks local events against; they
// live in BadgerDB and are announced in the owning chat.
package calendar

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/korjavin/whosfree/pkg/event"
	"github.com/korjavin/whosfree/pkg/logger"
	"github.com/korjavin/whosfree/pkg/messages"
	"github.com/korjavin/whosfree/pkg/storage"
)

// Entry lifecycle statuses
const (
	StatusScheduled = "scheduled"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Entry represents one scheduled calendar entry
type Entry struct {
	ID          string    `json:"id"`
	ChatID      int64     `json:"chat_id"`
	Name        string    `json:"name"`
	Start       time.Time `json:"start"`
	DurationMin int       `json:"duration"`
	ImageURL    string    `json:"image_url"`
	Status      string    `json:"status"`
	AttendeeIDs []int64   `json:"attendee_ids"`
	MessageID   int       `json:"message_id"`
}

// Service provides scheduled-entry management
type Service struct {
	store  *storage.Store
	chat   event.Transport
	logger *logger.Logger
}

// New creates a new calendar service
func New(store *storage.Store, chat event.Transport) *Service {
	return &Service{
		store:  store,
		chat:   chat,
		logger: logger.New("calendar"),
	}
}

func entryKey(id string) string {
	return fmt.Sprintf("entry:%s", id)
}

// CreateEntry materializes one accepted start time as a scheduled entry and
// announces it in the chat.
func (s *Service) CreateEntry(chatID int64, name string, start time.Time, durationMin int, imageURL string, attendees []int64) (string, error) {
	entry := &Entry{
		ID:          uuid.NewString(),
		ChatID:      chatID,
		Name:        name,
		Start:       start,
		DurationMin: durationMin,
		ImageURL:    imageURL,
		Status:      StatusScheduled,
		AttendeeIDs: attendees,
	}

	msgID, err := s.chat.SendMessage(chatID, messages.EntryAnnouncement(name, start, durationMin))
	if err != nil {
		s.logger.Error("Failed to announce entry for %q: %v", name, err)
	}
	entry.MessageID = msgID

	if err := s.store.Set(entryKey(entry.ID), entry); err != nil {
		return "", fmt.Errorf("failed to store calendar entry: %w", err)
	}

	s.logger.Info("Created calendar entry %s for %q at %s", entry.ID, name, start.Format(time.RFC3339))
	return entry.ID, nil
}

// Get retrieves an entry by ID
func (s *Service) Get(id string) (*Entry, error) {
	var entry Entry
	if err := s.store.Get(entryKey(id), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Service) update(id string, mutate func(*Entry)) error {
	entry, err := s.Get(id)
	if err != nil {
		return err
	}
	mutate(entry)
	return s.store.Set(entryKey(id), entry)
}

// EditEntryStart moves an entry to a new start time and refreshes its
// announcement message.
func (s *Service) EditEntryStart(id string, start time.Time) error {
	return s.update(id, func(entry *Entry) {
		entry.Start = start
		if entry.MessageID != 0 {
			err := s.chat.EditMessage(entry.ChatID, entry.MessageID, messages.EntryAnnouncement(entry.Name, start, entry.DurationMin))
			if err != nil {
				s.logger.Error("Failed to update announcement for entry %s: %v", id, err)
			}
		}
	})
}

// EditEntryImage replaces an entry's image URL
func (s *Service) EditEntryImage(id string, imageURL string) error {
	return s.update(id, func(entry *Entry) {
		entry.ImageURL = imageURL
	})
}

// StartEntry marks a scheduled entry active
func (s *Service) StartEntry(id string) error {
	return s.update(id, func(entry *Entry) {
		entry.Status = StatusActive
	})
}

// EndEntry marks an active entry completed
func (s *Service) EndEntry(id string) error {
	return s.update(id, func(entry *Entry) {
		entry.Status = StatusCompleted
	})
}

// DeleteEntry removes an entry and its announcement message
func (s *Service) DeleteEntry(id string) error {
	entry, err := s.Get(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if entry.MessageID != 0 {
		if err := s.chat.DeleteMessage(entry.ChatID, entry.MessageID); err != nil {
			s.logger.Error("Failed to delete announcement for entry %s: %v", id, err)
		}
	}
	return s.store.Delete(entryKey(id))
}

// EntryStatus returns an entry's lifecycle status
func (s *Service) EntryStatus(id string) (string, error) {
	entry, err := s.Get(id)
	if err != nil {
		return "", err
	}
	return entry.Status, nil
}

// List returns every entry belonging to a chat
func (s *Service) List(chatID int64) ([]Entry, error) {
	keys, err := s.store.List("entry:")
	if err != nil {
		return nil, fmt.Errorf("failed to list calendar entries: %w", err)
	}

	var out []Entry
	for _, key := range keys {
		var entry Entry
		if err := s.store.Get(key, &entry); err != nil {
			s.logger.Error("Failed to load calendar entry %s: %v", key, err)
			continue
		}
		if entry.ChatID == chatID {
			out = append(out, entry)
		}
	}
	return out, nil
}

// LiveEntries lists all entries that are still scheduled or running
func (s *Service) LiveEntries() ([]event.EntryInfo, error) {
	keys, err := s.store.List("entry:")
	if err != nil {
		return nil, fmt.Errorf("failed to list calendar entries: %w", err)
	}

	var live []event.EntryInfo
	for _, key := range keys {
		var entry Entry
		if err := s.store.Get(key, &entry); err != nil {
			s.logger.Error("Failed to load calendar entry %s: %v", key, err)
			continue
		}
		if entry.Status != StatusScheduled && entry.Status != StatusActive {
			continue
		}
		live = append(live, event.EntryInfo{
			ID:          entry.ID,
			ChatID:      entry.ChatID,
			Name:        entry.Name,
			Start:       entry.Start,
			DurationMin: entry.DurationMin,
			Status:      entry.Status,
			AttendeeIDs: entry.AttendeeIDs,
		})
	}
	return live, nil
}
