// Package entity holds the documents this service persists to the search
// index: tracebacks assembled from Papertrail logs, api call timing records,
// and mirrored Jira issues.
package entity

// Traceback is one assembled error traceback, anchored at the log line
// holding the final exception message.
type Traceback struct {
	// OriginPapertrailID is the Papertrail id of the final line of the
	// traceback. It doubles as the document id in the search index.
	OriginPapertrailID string `json:"origin_papertrail_id"`

	OriginTimestamp Timestamp `json:"origin_timestamp"`
	InstanceID      string    `json:"instance_id"`
	ProgramName     string    `json:"program_name"`

	// TracebackText is the parsed message text from the traceback marker
	// line through the final exception line.
	TracebackText string `json:"traceback_text"`

	// TracebackPlusContextText prepends the last few parsed lines before
	// the marker, for matching against user-pasted snippets.
	TracebackPlusContextText string `json:"traceback_plus_context_text"`

	// RawTracebackText and RawFullText carry the metadata-stamped line
	// forms ("Mon DD HH:MM:SS instance program:  message"), which is what
	// ends up in tickets and chat messages.
	RawTracebackText string `json:"raw_traceback_text"`
	RawFullText      string `json:"raw_full_text"`

	// ProfileName and Username are filled in best-effort by the profile
	// name enricher.
	ProfileName string `json:"profile_name,omitempty"`
	Username    string `json:"username,omitempty"`
}

// PapertrailURL links to the Papertrail event viewer focused on this
// traceback's final line.
func (t Traceback) PapertrailURL() string {
	return "https://papertrailapp.com/systems/" + t.InstanceID +
		"/events?focus=" + t.OriginPapertrailID
}
