// Package messages builds the user-facing text the bot sends. All text is
// deterministic so edits are idempotent across ticks.
package messages

import (
	"fmt"
	"strings"
	"time"
)

const timeFormat = "Mon Jan 2 15:04"

// AvailabilityPrompt asks the participants of an event for their time ranges
func AvailabilityPrompt(eventName string, usernames []string, durationMin int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📅 Scheduling *%s* (%d min).\n", eventName, durationMin)
	if len(usernames) > 0 {
		fmt.Fprintf(&b, "Waiting on: %s\n", strings.Join(usernames, ", "))
	}
	b.WriteString("Reply with your free time, e.g. `8-11, 15-17 ET`, or use the buttons below. ")
	b.WriteString("`full` means the rest of today, `none` means you can't make it.")
	return b.String()
}

// ScheduledNotice announces the accepted start times
func ScheduledNotice(eventName string, starts []time.Time) string {
	if len(starts) == 1 {
		return fmt.Sprintf("🎉 *%s* is scheduled for %s!", eventName, starts[0].Local().Format(timeFormat))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🎉 *%s* is scheduled for %d dates:\n", eventName, len(starts))
	for _, s := range starts {
		fmt.Fprintf(&b, "• %s\n", s.Local().Format(timeFormat))
	}
	return b.String()
}

// EntryAnnouncement is the announcement attached to one calendar entry
func EntryAnnouncement(eventName string, start time.Time, durationMin int) string {
	return fmt.Sprintf("🗓 *%s* — %s (%d min)", eventName, start.Local().Format(timeFormat), durationMin)
}

// Countdown is the periodically edited time-to-start message
func Countdown(eventName string, minutes int) string {
	if minutes <= 0 {
		return fmt.Sprintf("⏳ *%s* is due to start.", eventName)
	}
	return fmt.Sprintf("⏳ *%s* starts in %d min.", eventName, minutes)
}

// StartWarning fires once shortly before a slot starts
func StartWarning(eventName string, minutes int) string {
	return fmt.Sprintf("⏰ *%s* starts in %d minutes, get ready!", eventName, minutes)
}

// StartedNotice announces a running slot
func StartedNotice(eventName string) string {
	return fmt.Sprintf("▶️ *%s* has started. Have fun!", eventName)
}

// EndedNotice announces a finished event
func EndedNotice(eventName string) string {
	return fmt.Sprintf("🏁 *%s* has ended. Thanks everyone!", eventName)
}

// NextSlotNotice announces the next slot of a multi-date event
func NextSlotNotice(eventName string, next time.Time) string {
	return fmt.Sprintf("🏁 This round of *%s* is over. Next one: %s.", eventName, next.Local().Format(timeFormat))
}

// CancelledNotice announces a cancelled event with the reason
func CancelledNotice(eventName string, reason string) string {
	return fmt.Sprintf("❌ *%s* was cancelled: %s.", eventName, reason)
}
