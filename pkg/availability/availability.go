// Package availability parses the time-range text participants submit in
// response to a scheduling prompt. Parsing is a pure validation boundary: a
// malformed submission is returned as a *ValidationError and never mutates
// any event state.
package availability

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/korjavin/whosfree/pkg/timeblock"
)

// Kind classifies what a participant's submission means
type Kind int

const (
	// KindRanges is an explicit list of time blocks
	KindRanges Kind = iota
	// KindFull is the "full availability" shortcut (rest of the day)
	KindFull
	// KindClear is an empty availability ("none"), which withdraws the participant
	KindClear
)

// Response is the parsed form of one availability submission
type Response struct {
	Kind   Kind
	Blocks []timeblock.Block
}

// ValidationError describes why a submission was rejected
type ValidationError struct {
	Input  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid availability %q: %s", e.Input, e.Reason)
}

// Fixed whole-hour UTC offsets for the supported timezone tokens. The bot
// deliberately does not consult the IANA database.
var tzOffsets = map[string]int{
	"et": -5, "est": -5, "edt": -4,
	"ct": -6, "cst": -6, "cdt": -5,
	"mt": -7, "mst": -7, "mdt": -6,
	"pt": -8, "pst": -8, "pdt": -7,
}

// FullDay returns the "full availability" block: from now until midnight of
// the following day.
func FullDay(now time.Time) []timeblock.Block {
	y, m, d := now.Date()
	end := time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
	return []timeblock.Block{{Start: now, End: end}}
}

// Parse interprets a participant's availability text relative to now.
//
// Grammar: an optional leading date token (MM/DD/YYYY, MM/DD or a bare
// day-of-month, default today), a comma-separated list of start-end ranges
// where each side is HHMM, HH:MM, HMM, H or empty, and an optional trailing
// timezone token. An empty start means "now" when the date is today and
// midnight otherwise; an empty end means midnight of the following day; an
// end at or before its start rolls over to the next day. The keywords
// full/all and clear/empty/none bypass range parsing entirely.
func Parse(input string, now time.Time) (Response, error) {
	text := strings.TrimSpace(input)
	if text == "" {
		return Response{}, &ValidationError{Input: input, Reason: "empty submission"}
	}

	switch strings.ToLower(text) {
	case "full", "all":
		return Response{Kind: KindFull, Blocks: FullDay(now)}, nil
	case "clear", "empty", "none":
		return Response{Kind: KindClear}, nil
	}

	fields := strings.Fields(text)

	// Trailing timezone token
	loc := now.Location()
	if offset, ok := tzOffsets[strings.ToLower(fields[len(fields)-1])]; ok {
		name := strings.ToUpper(fields[len(fields)-1])
		loc = time.FixedZone(name, offset*3600)
		fields = fields[:len(fields)-1]
		if len(fields) == 0 {
			return Response{}, &ValidationError{Input: input, Reason: "timezone without any time ranges"}
		}
	}

	// Leading date token
	localNow := now.In(loc)
	year, month, day := localNow.Date()
	if parsedYear, parsedMonth, parsedDay, ok, err := parseDateToken(fields[0], localNow); err != nil {
		return Response{}, &ValidationError{Input: input, Reason: err.Error()}
	} else if ok {
		year, month, day = parsedYear, parsedMonth, parsedDay
		fields = fields[1:]
		if len(fields) == 0 {
			return Response{}, &ValidationError{Input: input, Reason: "date without any time ranges"}
		}
	}

	targetIsToday := timeblock.SameDate(time.Date(year, month, day, 12, 0, 0, 0, loc), localNow)

	var blocks []timeblock.Block
	for _, rangeText := range strings.Split(strings.Join(fields, " "), ",") {
		rangeText = strings.TrimSpace(rangeText)
		if strings.Count(rangeText, "-") != 1 {
			return Response{}, &ValidationError{Input: input, Reason: fmt.Sprintf("range %q must be start-end", rangeText)}
		}

		parts := strings.SplitN(rangeText, "-", 2)
		startText := strings.TrimSpace(parts[0])
		endText := strings.TrimSpace(parts[1])

		var start time.Time
		if startText == "" {
			if targetIsToday {
				start = now
			} else {
				start = time.Date(year, month, day, 0, 0, 0, 0, loc)
			}
		} else {
			hour, minute, err := parseClock(startText)
			if err != nil {
				return Response{}, &ValidationError{Input: input, Reason: err.Error()}
			}
			start = time.Date(year, month, day, hour, minute, 0, 0, loc)
		}

		var end time.Time
		if endText == "" {
			end = time.Date(year, month, day+1, 0, 0, 0, 0, loc)
		} else {
			hour, minute, err := parseClock(endText)
			if err != nil {
				return Response{}, &ValidationError{Input: input, Reason: err.Error()}
			}
			end = time.Date(year, month, day, hour, minute, 0, 0, loc)
		}

		// A range like 22-2 (or an end of exactly midnight) continues into
		// the next day.
		if !end.After(start) {
			end = end.AddDate(0, 0, 1)
		}

		block, err := timeblock.New(start, end)
		if err != nil {
			return Response{}, &ValidationError{Input: input, Reason: err.Error()}
		}
		blocks = append(blocks, block)
	}

	return Response{Kind: KindRanges, Blocks: timeblock.Normalize(blocks)}, nil
}

// parseDateToken recognizes MM/DD/YYYY, MM/DD and bare day-of-month tokens.
// ok is false when the token is not a date token at all (so it should be
// parsed as a range instead).
func parseDateToken(token string, now time.Time) (int, time.Month, int, bool, error) {
	if strings.Contains(token, "/") {
		parts := strings.Split(token, "/")
		if len(parts) != 2 && len(parts) != 3 {
			return 0, 0, 0, false, fmt.Errorf("date %q must be MM/DD or MM/DD/YYYY", token)
		}

		month, err := strconv.Atoi(parts[0])
		if err != nil || month < 1 || month > 12 {
			return 0, 0, 0, false, fmt.Errorf("date %q has an invalid month", token)
		}
		day, err := strconv.Atoi(parts[1])
		if err != nil || day < 1 || day > 31 {
			return 0, 0, 0, false, fmt.Errorf("date %q has an invalid day", token)
		}

		year := now.Year()
		if len(parts) == 3 {
			year, err = strconv.Atoi(parts[2])
			if err != nil || year < 1970 {
				return 0, 0, 0, false, fmt.Errorf("date %q has an invalid year", token)
			}
		}
		return year, time.Month(month), day, true, nil
	}

	// A bare number with no dash is a day of the current month
	if !strings.Contains(token, "-") && len(token) <= 2 {
		if day, err := strconv.Atoi(token); err == nil {
			if day < 1 || day > 31 {
				return 0, 0, 0, false, fmt.Errorf("day of month %q out of range", token)
			}
			return now.Year(), now.Month(), day, true, nil
		}
	}

	return 0, 0, 0, false, nil
}

// parseClock parses a single clock token: HHMM, HH:MM, HMM or H.
func parseClock(text string) (int, int, error) {
	hourText, minuteText := "", "0"

	switch {
	case strings.Contains(text, ":"):
		parts := strings.SplitN(text, ":", 2)
		hourText, minuteText = parts[0], parts[1]
		if len(minuteText) != 2 {
			return 0, 0, fmt.Errorf("time %q must use two minute digits", text)
		}
	case len(text) <= 2:
		hourText = text
	case len(text) == 3:
		hourText, minuteText = text[:1], text[1:]
	case len(text) == 4:
		hourText, minuteText = text[:2], text[2:]
	default:
		return 0, 0, fmt.Errorf("time %q not recognized", text)
	}

	hour, err := strconv.Atoi(hourText)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("time %q has an invalid hour", text)
	}
	minute, err := strconv.Atoi(minuteText)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time %q has invalid minutes", text)
	}

	return hour, minute, nil
}
