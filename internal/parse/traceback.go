package parse

import (
	"bufio"
	"io"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/topher200/assertion-context/internal/entity"
)

// TracebackMarker opens every Python traceback we care about.
const TracebackMarker = "Traceback (most recent call last)"

const (
	// ringCapacity bounds how far back context recovery can reach.
	ringCapacity = 10000
	// contextWindow caps how many same-origin lines are stitched in
	// front of an error line.
	contextWindow = 50
	// plusContextLines is how many pre-marker lines are kept in the
	// traceback_plus_context_text field.
	plusContextLines = 3
)

// errorMarkerRegex fires only when an interesting exception class opens
// a stitched line. Markers quoted mid-message are chatter, not origin
// lines.
var errorMarkerRegex = regexp.MustCompile(
	`\n(?:AssertionError|KeyError|NotImplementedError|ValueError)`)

// Known-noisy shapes that mention an exception class but are not worth
// a triage entry.
var errorExclusionRegexes = []*regexp.Regexp{
	regexp.MustCompile(`details = AssertionError`),
	regexp.MustCompile(`AssertionError.*can only join a child process`),
	regexp.MustCompile(`threading\.pyc`),
	regexp.MustCompile(`args:\[`),
}

// ContainsErrorMarker reports whether the stitched text holds an
// exception line we want to assemble a traceback for. The marker must
// sit at the start of a line.
func ContainsErrorMarker(text string) bool {
	if !errorMarkerRegex.MatchString(text) {
		return false
	}
	for _, re := range errorExclusionRegexes {
		if re.MatchString(text) {
			return false
		}
	}
	return true
}

// errorClassNames is a loose substring prefilter, used only to decide
// whether an unparseable record was an origin candidate worth counting.
var errorClassNames = []string{
	"AssertionError", "KeyError", "NotImplementedError", "ValueError",
}

func mentionsErrorClass(s string) bool {
	for _, class := range errorClassNames {
		if strings.Contains(s, class) {
			return true
		}
	}
	return false
}

// ring is a fixed-capacity buffer of the most recent raw lines.
type ring struct {
	buf  []string
	next int
	n    int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]string, capacity)}
}

func (r *ring) push(line string) {
	r.buf[r.next] = line
	r.next = (r.next + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
}

// walkNewestFirst calls fn for each buffered line, most recent first,
// until fn returns false.
func (r *ring) walkNewestFirst(fn func(line string) bool) {
	idx := r.next
	for i := 0; i < r.n; i++ {
		idx--
		if idx < 0 {
			idx = len(r.buf) - 1
		}
		if !fn(r.buf[idx]) {
			return
		}
	}
}

// TracebackAssembler consumes a log stream line by line and emits a
// Traceback whenever a line matches the error predicate. Context is
// recovered backward from the ring: the most recent lines sharing the
// origin's instance and program.
//
// One assembler serves one stream; run parallel streams with separate
// assemblers.
type TracebackAssembler struct {
	ring    *ring
	log     *zap.Logger
	skipped int
}

func NewTracebackAssembler(log *zap.Logger) *TracebackAssembler {
	return &TracebackAssembler{ring: newRing(ringCapacity), log: log}
}

// SkippedLines counts origin candidates dropped as unparseable.
func (a *TracebackAssembler) SkippedLines() int { return a.skipped }

// Feed processes one raw record. It returns the assembled Traceback
// when the record is an origin line with a locatable marker.
func (a *TracebackAssembler) Feed(raw string) (*entity.Traceback, bool) {
	defer a.ring.push(raw)

	origin, err := ParseLogLine(raw)
	if err != nil {
		if mentionsErrorClass(raw) {
			a.skipped++
			a.log.Warn("skipping unparseable origin line", zap.Error(err))
		}
		return nil, false
	}
	// The predicate wants the marker right after a line break, so stitch
	// one in front of the parsed message.
	if !ContainsErrorMarker("\n" + origin.Message) {
		return nil, false
	}

	context := a.collectContext(origin)
	lines := append(context, origin)

	rawLines := make([]string, len(lines))
	parsedLines := make([]string, len(lines))
	for i, l := range lines {
		rawLines[i] = l.FormattedLine()
		parsedLines[i] = strings.TrimRight(l.Message, "\n")
	}
	rawFullText := strings.Join(rawLines, "\n")

	rawTracebackText := ""
	if idx := strings.LastIndex(rawFullText, TracebackMarker); idx >= 0 {
		rawTracebackText = rawFullText[idx:]
	}

	parsedFullText := strings.Join(parsedLines, "\n")
	idx := strings.LastIndex(parsedFullText, TracebackMarker)
	if idx < 0 {
		// Error line with no traceback in reach. Not actionable.
		return nil, false
	}
	tracebackText := parsedFullText[idx:]

	return &entity.Traceback{
		OriginPapertrailID:       origin.PapertrailID,
		OriginTimestamp:          entity.NewTimestamp(origin.Timestamp),
		InstanceID:               origin.InstanceID,
		ProgramName:              origin.ProgramName,
		TracebackText:            tracebackText,
		TracebackPlusContextText: plusContext(parsedFullText[:idx], tracebackText),
		RawTracebackText:         rawTracebackText,
		RawFullText:              rawFullText,
	}, true
}

// collectContext walks the ring newest-first for lines from the same
// instance and program, then reverses so context reads chronologically.
func (a *TracebackAssembler) collectContext(origin LogLine) []LogLine {
	var reversed []LogLine
	a.ring.walkNewestFirst(func(raw string) bool {
		line, err := ParseLogLine(raw)
		if err != nil {
			return true
		}
		if line.InstanceID == origin.InstanceID && line.ProgramName == origin.ProgramName {
			reversed = append(reversed, line)
			if len(reversed) == contextWindow {
				return false
			}
		}
		return true
	})
	context := make([]LogLine, len(reversed))
	for i, l := range reversed {
		context[len(reversed)-1-i] = l
	}
	return context
}

// plusContext prepends the last few pre-marker lines to the traceback
// text. head is everything before the marker, so its final segment is
// the (usually empty) prefix of the marker's own line.
func plusContext(head, tracebackText string) string {
	segs := strings.Split(head, "\n")
	prefix := segs[len(segs)-1]
	whole := segs[:len(segs)-1]
	if len(whole) > plusContextLines {
		whole = whole[len(whole)-plusContextLines:]
	}
	parts := append(append([]string{}, whole...), prefix+tracebackText)
	return strings.Join(parts, "\n")
}

// ParseTracebacks runs the assembler over a whole record stream.
func ParseTracebacks(r io.Reader, log *zap.Logger) ([]entity.Traceback, error) {
	assembler := NewTracebackAssembler(log)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var out []entity.Traceback
	for scanner.Scan() {
		if tb, ok := assembler.Feed(scanner.Text()); ok {
			out = append(out, *tb)
		}
	}
	return out, scanner.Err()
}
