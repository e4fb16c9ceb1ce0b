package event

import (
	"time"

	"github.com/korjavin/whosfree/pkg/models"
	"github.com/korjavin/whosfree/pkg/timeblock"
)

// Participant is one person whose availability is solicited for an event.
// Participants are owned by their Event and every mutation goes through an
// Event method, so the Event mutex is the single serialization point.
type Participant struct {
	MemberID int64
	Username string

	// Availability is non-overlapping and start-ascending
	Availability []timeblock.Block

	Answered         bool
	Subscribed       bool
	Cancelling       bool
	FullAvailability bool
}

// availableFor reports whether the participant is free for the whole
// interval [start, start+d)
func (p *Participant) availableFor(start time.Time, d time.Duration) bool {
	for _, b := range p.Availability {
		if b.Covers(start, d) {
			return true
		}
	}
	return false
}

// lastEnd returns the end of the participant's last availability block
func (p *Participant) lastEnd() time.Time {
	if len(p.Availability) == 0 {
		return time.Time{}
	}
	return p.Availability[len(p.Availability)-1].End
}

// record converts the participant to its persisted form
func (p *Participant) record() models.ParticipantRecord {
	rec := models.ParticipantRecord{
		MemberID:         p.MemberID,
		Username:         p.Username,
		Answered:         p.Answered,
		Subscribed:       p.Subscribed,
		Cancelling:       p.Cancelling,
		FullAvailability: p.FullAvailability,
	}
	for _, b := range p.Availability {
		rec.Availability = append(rec.Availability, models.BlockRecord{
			Start: b.Start.UTC().Format(time.RFC3339),
			End:   b.End.UTC().Format(time.RFC3339),
		})
	}
	return rec
}

// participantFromRecord rebuilds a participant from its persisted form
func participantFromRecord(rec models.ParticipantRecord) (*Participant, error) {
	p := &Participant{
		MemberID:         rec.MemberID,
		Username:         rec.Username,
		Answered:         rec.Answered,
		Subscribed:       rec.Subscribed,
		Cancelling:       rec.Cancelling,
		FullAvailability: rec.FullAvailability,
	}
	for _, b := range rec.Availability {
		start, err := time.Parse(time.RFC3339, b.Start)
		if err != nil {
			return nil, err
		}
		end, err := time.Parse(time.RFC3339, b.End)
		if err != nil {
			return nil, err
		}
		block, err := timeblock.New(start, end)
		if err != nil {
			return nil, err
		}
		p.Availability = append(p.Availability, block)
	}
	return p, nil
}
