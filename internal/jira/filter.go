// Package jira wraps the ticket tracker: issue CRUD, the project scan,
// and the description/comment templates tickets are written with.
package jira

import (
	"regexp"
	"strings"

	"github.com/topher200/assertion-context/internal/parse"
)

// Papertrail stamps every pasted log line with "Mon DD HH:MM:SS
// i-<instance> <program>:". Ticket text mixes stamped traceback lines
// with human prose, and text matching must only see the former with
// their stamps removed.
var (
	metadataStampRegex = regexp.MustCompile(`\w{3} \d{2} \d\d:\d\d:\d\d i-\w+ \S+:\s{0,2}`)
	metadataIDRegex    = regexp.MustCompile(`\w{3} \d{2} \d\d:\d\d:\d\d (i-\w+) (\S+):`)
)

// FilterPapertrailMetadata strips aggregator stamps from ticket text.
// Two passes: keep lines that are either prose (no stamp at all) or
// belong to the same instance+program as a traceback marker line in the
// text; then drop the stamps themselves.
func FilterPapertrailMetadata(text string) string {
	lines := strings.Split(text, "\n")

	// Identify which (instance, program) pairs carry a traceback.
	tracebackSources := map[[2]string]struct{}{}
	for _, line := range lines {
		if !strings.Contains(line, parse.TracebackMarker) {
			continue
		}
		if m := metadataIDRegex.FindStringSubmatch(line); m != nil {
			tracebackSources[[2]string{m[1], m[2]}] = struct{}{}
		}
	}

	var kept []string
	for _, line := range lines {
		m := metadataIDRegex.FindStringSubmatch(line)
		if m == nil {
			kept = append(kept, line)
			continue
		}
		if _, ok := tracebackSources[[2]string{m[1], m[2]}]; ok {
			kept = append(kept, metadataStampRegex.ReplaceAllString(line, ""))
		}
	}
	return strings.Join(kept, "\n")
}
