package event

import "time"

// Transport is the chat platform as seen by the scheduling engine. Calls
// are fire-and-forget: a failure is logged by the caller and retried, if at
// all, on a later tick.
type Transport interface {
	SendMessage(chatID int64, text string) (int, error)
	EditMessage(chatID int64, messageID int, text string) error
	DeleteMessage(chatID int64, messageID int) error
}

// EntryInfo is a summary of one scheduled calendar entry
type EntryInfo struct {
	ID          string
	ChatID      int64
	Name        string
	Start       time.Time
	DurationMin int
	Status      string
	AttendeeIDs []int64
}

// Calendar is the external calendar collaborator that materializes accepted
// start times as scheduled entries.
type Calendar interface {
	CreateEntry(chatID int64, name string, start time.Time, durationMin int, imageURL string, attendees []int64) (string, error)
	EditEntryStart(id string, start time.Time) error
	EditEntryImage(id string, imageURL string) error
	StartEntry(id string) error
	EndEntry(id string) error
	DeleteEntry(id string) error
	EntryStatus(id string) (string, error)
	LiveEntries() ([]EntryInfo, error)
}
