package event

import (
	"fmt"
	"time"

	"github.com/korjavin/whosfree/pkg/availability"
	"github.com/korjavin/whosfree/pkg/logger"
)

// Action identifies one user action on an event
type Action string

const (
	ActionAnswer      Action = "answer"
	ActionSetFull     Action = "full"
	ActionSetNone     Action = "none"
	ActionUnsubscribe Action = "unsub"
	ActionCancelVote  Action = "cancelvote"
	ActionStart       Action = "start"
	ActionEnd         Action = "end"
	ActionReschedule  Action = "resched"
	ActionCancelEvent Action = "cancel"
)

// Command is one user action addressed to an event and participant
type Command struct {
	Action    Action
	ChatID    int64
	EventName string
	MemberID  int64
	Username  string
	Payload   string
	Now       time.Time
}

// Dispatcher routes user actions onto the registry. It is the single
// handler for every button and command the chat transport surfaces.
type Dispatcher struct {
	registry     *Registry
	calendar     Calendar
	timeoutTicks int
	logger       *logger.Logger
}

// NewDispatcher creates the action dispatcher
func NewDispatcher(registry *Registry, calendar Calendar, timeoutTicks int) *Dispatcher {
	return &Dispatcher{
		registry:     registry,
		calendar:     calendar,
		timeoutTicks: timeoutTicks,
		logger:       logger.New("dispatch"),
	}
}

// Handle applies one command and returns the reply text for the acting user
func (d *Dispatcher) Handle(cmd Command) (string, error) {
	e, ok := d.registry.Get(cmd.ChatID, cmd.EventName)
	if !ok {
		return "", fmt.Errorf("no event named %q is being scheduled here", cmd.EventName)
	}
	if cmd.Now.IsZero() {
		cmd.Now = time.Now()
	}

	switch cmd.Action {
	case ActionAnswer:
		resp, err := availability.Parse(cmd.Payload, cmd.Now)
		if err != nil {
			return "", err
		}
		switch resp.Kind {
		case availability.KindFull:
			if err := e.SetAvailability(cmd.MemberID, cmd.Username, resp.Blocks, true); err != nil {
				return "", err
			}
			return fmt.Sprintf("✅ Marked you free for the rest of the day for %q.", e.Name), nil
		case availability.KindClear:
			if err := e.SetNone(cmd.MemberID, cmd.Username); err != nil {
				return "", err
			}
			return fmt.Sprintf("Noted, you can't make %q.", e.Name), nil
		default:
			if err := e.SetAvailability(cmd.MemberID, cmd.Username, resp.Blocks, false); err != nil {
				return "", err
			}
			return fmt.Sprintf("✅ Recorded %d time range(s) for %q.", len(resp.Blocks), e.Name), nil
		}

	case ActionSetFull:
		blocks := availability.FullDay(cmd.Now)
		if err := e.SetAvailability(cmd.MemberID, cmd.Username, blocks, true); err != nil {
			return "", err
		}
		return fmt.Sprintf("✅ Marked you free for the rest of the day for %q.", e.Name), nil

	case ActionSetNone:
		if err := e.SetNone(cmd.MemberID, cmd.Username); err != nil {
			return "", err
		}
		return fmt.Sprintf("Noted, you can't make %q.", e.Name), nil

	case ActionUnsubscribe:
		if err := e.Unsubscribe(cmd.MemberID, cmd.Username); err != nil {
			return "", err
		}
		return fmt.Sprintf("You won't be counted for %q anymore.", e.Name), nil

	case ActionCancelVote:
		voting, err := e.ToggleCancelVote(cmd.MemberID, cmd.Username)
		if err != nil {
			return "", err
		}
		if voting {
			return fmt.Sprintf("🗳 Your vote to cancel %q is counted.", e.Name), nil
		}
		return fmt.Sprintf("🗳 Your vote to cancel %q is withdrawn.", e.Name), nil

	case ActionStart:
		if e.Status() != StatusMaterialized {
			return "", fmt.Errorf("%q has no scheduled slot to start", e.Name)
		}
		e.MarkStarted()
		return fmt.Sprintf("▶️ %q starts now.", e.Name), nil

	case ActionEnd:
		if e.Status() != StatusStarted {
			return "", fmt.Errorf("%q is not running", e.Name)
		}
		e.RequestEnd()
		return fmt.Sprintf("⏹ %q will be wrapped up.", e.Name), nil

	case ActionReschedule:
		orphaned := e.Reschedule(d.timeoutTicks)
		for _, id := range orphaned {
			if err := d.calendar.DeleteEntry(id); err != nil {
				d.logger.Error("Failed to delete calendar entry %s while rescheduling %q: %v", id, e.Name, err)
			}
		}
		return fmt.Sprintf("🔄 %q is being rescheduled, please send your availability again.", e.Name), nil

	case ActionCancelEvent:
		e.MarkCancelled()
		return fmt.Sprintf("❌ %q will be cancelled.", e.Name), nil

	default:
		return "", fmt.Errorf("unknown action %q", cmd.Action)
	}
}
