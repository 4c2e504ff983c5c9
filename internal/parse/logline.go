// Package parse turns Papertrail log records into structured artifacts:
// individual lines, assembled tracebacks, and api call timing records.
package parse

import (
	"fmt"
	"strings"
	"time"
)

// DisplayZone is the zone all timestamps are normalized to for storage
// and presentation.
var DisplayZone = mustLoadLocation("America/New_York")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// ParseError marks a log record the parser could not make sense of.
// Callers skip such records.
type ParseError struct {
	Reason string
	Line   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable log line (%s): %.80q", e.Reason, e.Line)
}

const logLineFields = 10

// LogLine is one parsed Papertrail record.
type LogLine struct {
	PapertrailID string
	Timestamp    time.Time
	InstanceID   string
	ProgramName  string
	// Message is the raw message field, tabs and trailing newline intact.
	Message string
}

// FormattedLine renders the line the way Papertrail's viewer does, which
// is the form users paste into tickets.
func (l LogLine) FormattedLine() string {
	return fmt.Sprintf("%s %s %s:  %s",
		l.Timestamp.Format("Jan 02 15:04:05"),
		l.InstanceID,
		l.ProgramName,
		strings.TrimRight(l.Message, "\n"))
}

// ParseLogLine splits a tab-delimited Papertrail record into its 10
// fields. The message field may itself contain tabs, so splitting stops
// at field 9.
func ParseLogLine(raw string) (LogLine, error) {
	fields := strings.SplitN(raw, "\t", logLineFields)
	if len(fields) != logLineFields {
		return LogLine{}, &ParseError{Reason: "field count", Line: raw}
	}
	ts, err := parseTimestamp(fields[1])
	if err != nil {
		return LogLine{}, &ParseError{Reason: err.Error(), Line: raw}
	}
	return LogLine{
		PapertrailID: fields[0],
		Timestamp:    ts,
		InstanceID:   fields[4],
		ProgramName:  fields[8],
		Message:      fields[9],
	}, nil
}

const timestampCore = "2006-01-02T15:04:05"

// parseTimestamp accepts the handful of zone suffixes Papertrail
// actually emits. A bare timestamp or "Z" is UTC; the eastern offsets
// are wall time in the display zone. Anything else is rejected so a
// format drift surfaces immediately instead of shifting every record.
func parseTimestamp(raw string) (time.Time, error) {
	if len(raw) < len(timestampCore) {
		return time.Time{}, fmt.Errorf("timestamp too short: %q", raw)
	}
	core, suffix := raw[:len(timestampCore)], raw[len(timestampCore):]
	var t time.Time
	var err error
	switch suffix {
	case "", "Z":
		t, err = time.ParseInLocation(timestampCore, core, time.UTC)
	case "-04:00", "-05:00":
		t, err = time.ParseInLocation(timestampCore, core, DisplayZone)
	default:
		return time.Time{}, fmt.Errorf("unrecognized timezone %q", suffix)
	}
	if err != nil {
		return time.Time{}, err
	}
	return t.In(DisplayZone), nil
}
