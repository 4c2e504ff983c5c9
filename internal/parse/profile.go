package parse

import (
	"regexp"
	"strings"

	"github.com/topher200/assertion-context/internal/entity"
)

// Profile name recovery is best effort: each server program logs the
// acting profile in a different shape, always on or near the last ERROR
// line before the traceback starts.
var (
	updProfileRegex      = regexp.MustCompile(`#upd:(\S+?):`)
	activityWorkerRegex  = regexp.MustCompile(`:(\S+):\s+ERROR`)
	mainThreadPIDRegex   = regexp.MustCompile(`\s(\d+)/MainThread`)
	requestIdentityRegex = regexp.MustCompile(`/(?:WS|PV)#(\S+)-(\S*@\S+)\s*:`)
)

// EnrichProfileName re-reads a traceback's full context for the profile
// and username active when the error fired. It returns the updated copy
// and whether anything new was learned. Existing values are never
// cleared.
func EnrichProfileName(tb entity.Traceback) (entity.Traceback, bool) {
	profile, username := extractIdentity(tb)
	changed := false
	if profile != "" && tb.ProfileName == "" {
		tb.ProfileName = profile
		changed = true
	}
	if username != "" && tb.Username == "" {
		tb.Username = username
		changed = true
	}
	return tb, changed
}

func extractIdentity(tb entity.Traceback) (profile, username string) {
	lines := preTracebackLines(tb.RawFullText)
	errorIdx := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.Contains(lines[i], "ERROR") {
			errorIdx = i
			break
		}
	}
	if errorIdx < 0 {
		return "", ""
	}
	errorLine := lines[errorIdx]

	switch {
	case strings.HasSuffix(tb.ProgramName, "update.debug"):
		if m := updProfileRegex.FindStringSubmatch(errorLine); m != nil {
			// The updater logs either a profile or a bare email here.
			if strings.Contains(m[1], "@") {
				return "", m[1]
			}
			return m[1], ""
		}
	case strings.Contains(tb.ProgramName, "activity-worker"):
		if m := activityWorkerRegex.FindStringSubmatch(errorLine); m != nil {
			return m[1], ""
		}
	case strings.Contains(tb.ProgramName, "engine.server.debug"),
		strings.Contains(tb.ProgramName, "manager.debug"):
		m := mainThreadPIDRegex.FindStringSubmatch(errorLine)
		if m == nil {
			return "", ""
		}
		pid := m[1]
		// Only the latest prior line with this PID names the request; if
		// it carries no identity, older PID hits are a different request.
		for i := errorIdx - 1; i >= 0; i-- {
			if !strings.Contains(lines[i], pid) {
				continue
			}
			if id := requestIdentityRegex.FindStringSubmatch(lines[i]); id != nil {
				return id[1], id[2]
			}
			break
		}
	}
	return "", ""
}

// preTracebackLines drops everything from the last traceback marker on.
func preTracebackLines(rawFullText string) []string {
	head := rawFullText
	if idx := strings.LastIndex(rawFullText, TracebackMarker); idx >= 0 {
		head = rawFullText[:idx]
	}
	return strings.Split(head, "\n")
}
