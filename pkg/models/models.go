// Package models defines the persisted wire types: the snapshot document
// written to storage at the end of every control-loop tick and the records
// it is built from. Timestamps are stored as RFC3339 strings in UTC and
// durations as integral minutes so a save/load round-trip is exact.
package models

// Snapshot is the top-level persisted document
type Snapshot struct {
	Events []EventRecord `json:"events"`
}

// EventRecord is the persisted form of one scheduling request
type EventRecord struct {
	Name        string `json:"name"`
	ChatID      int64  `json:"chat_id"`
	ThreadID    int    `json:"thread_id"`
	VenueID     int64  `json:"venue_id"`
	InitiatorID int64  `json:"initiator_id"`

	// Message identifiers, 0 when the message was never sent
	AvailabilityMsgID int `json:"availability_msg_id"`
	ResponseMsgID     int `json:"response_msg_id"`
	ControlMsgID      int `json:"control_msg_id"`

	Participants []ParticipantRecord `json:"participants"`
	ImageURL     string              `json:"image_url"`

	// Lifecycle flags
	ReadyToCreate bool `json:"ready_to_create"`
	Created       bool `json:"created"`
	Started       bool `json:"started"`
	Changed       bool `json:"changed"`
	Unavailable   bool `json:"unavailable"`
	MultiEvent    bool `json:"multi_event"`

	EntryIDs     []string `json:"entry_ids"`
	StartTimes   []string `json:"start_times"`
	WarningsSent []bool   `json:"warnings_sent"`

	Duration       int `json:"duration"`
	TimeoutCounter int `json:"timeout_counter"`
}

// ParticipantRecord is the persisted form of one participant
type ParticipantRecord struct {
	MemberID         int64         `json:"member_id"`
	Username         string        `json:"username"`
	Availability     []BlockRecord `json:"availability"`
	Answered         bool          `json:"answered"`
	Subscribed       bool          `json:"subscribed"`
	Cancelling       bool          `json:"cancelling"`
	FullAvailability bool          `json:"full_availability"`
}

// BlockRecord is the persisted form of one availability time block
type BlockRecord struct {
	Start string `json:"start"`
	End   string `json:"end"`
}
