package parse

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/topher200/assertion-context/internal/entity"
)

// apiCallPrograms are the only programs whose timing lines we record.
var apiCallPrograms = []string{"engine.server.debug", "manager.debug"}

// apiCallRegex pulls the request identity and timing out of a
// "took N milliseconds" line. The memory stats tail only exists on
// newer server builds.
var apiCallRegex = regexp.MustCompile(
	`\d+/\w+#(?:(?P<profile_name>\w+)-)?(?P<username>[A-Za-z0-9_.+\-@]+)` +
		`.*\s(?P<api_name>\w+)\s\((?P<method>[A-Z]+)\)\s+took\s+(?P<duration>\d+)\s+milliseconds` +
		`(?:\s+to\s+complete(?:\s+and\s+final\s+memory\s+(?P<memory_final>-?\d+)MB\s+\(delta\s+(?P<memory_delta>-?\d+)MB\))?)?`)

var apiCallGroups = func() map[string]int {
	groups := map[string]int{}
	for i, name := range apiCallRegex.SubexpNames() {
		if name != "" {
			groups[name] = i
		}
	}
	return groups
}()

// interestingAPICallLine is a cheap prefilter run before the regex.
func interestingAPICallLine(raw string) bool {
	if !strings.Contains(raw, "milliseconds to complete") {
		return false
	}
	if strings.Contains(raw, "MainThread") {
		return false
	}
	for _, program := range apiCallPrograms {
		if strings.Contains(raw, program) {
			return true
		}
	}
	return false
}

// ExtractApiCall parses one raw record into an ApiCall, if it is one.
func ExtractApiCall(raw string) (*entity.ApiCall, bool) {
	if !interestingAPICallLine(raw) {
		return nil, false
	}
	line, err := ParseLogLine(raw)
	if err != nil {
		return nil, false
	}
	match := apiCallRegex.FindStringSubmatch(line.Message)
	if match == nil {
		return nil, false
	}
	group := func(name string) string { return match[apiCallGroups[name]] }

	duration, err := strconv.Atoi(group("duration"))
	if err != nil {
		return nil, false
	}
	call := &entity.ApiCall{
		PapertrailID: line.PapertrailID,
		Timestamp:    entity.NewTimestamp(line.Timestamp),
		InstanceID:   line.InstanceID,
		ProgramName:  line.ProgramName,
		ProfileName:  group("profile_name"),
		Username:     group("username"),
		ApiName:      group("api_name"),
		Method:       group("method"),
		DurationMS:   duration,
	}
	if group("memory_final") != "" {
		final, _ := strconv.Atoi(group("memory_final"))
		delta, _ := strconv.Atoi(group("memory_delta"))
		call.MemoryFinalMB = &final
		call.MemoryDeltaMB = &delta
	}
	return call, true
}

// ParseApiCalls runs the extractor over a whole record stream.
func ParseApiCalls(r io.Reader, log *zap.Logger) ([]entity.ApiCall, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var out []entity.ApiCall
	for scanner.Scan() {
		if call, ok := ExtractApiCall(scanner.Text()); ok {
			out = append(out, *call)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Warn("api call scan ended early", zap.Error(err))
		return out, err
	}
	return out, nil
}
