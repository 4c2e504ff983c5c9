package entity

// CommentSeparator joins a ticket's comments into the single comments
// field mirrored in the search index.
const CommentSeparator = "\n!!!newcomment!!!\n"

// Ticket mirrors a Jira issue into the search index so tracebacks can be
// correlated against tickets without hitting Jira on every lookup.
type Ticket struct {
	Key     string `json:"key"`
	URL     string `json:"url"`
	Summary string `json:"summary"`

	Description string `json:"description"`
	// DescriptionFiltered is the description with Papertrail metadata
	// stamps stripped, so text matching hits the traceback body itself.
	DescriptionFiltered string `json:"description_filtered"`

	Comments         string `json:"comments"`
	CommentsFiltered string `json:"comments_filtered"`

	IssueType string `json:"issue_type"`
	Status    string `json:"status"`
	Assignee  string `json:"assignee,omitempty"`

	Created Timestamp `json:"created"`
	Updated Timestamp `json:"updated"`
}

// Open reports whether the ticket still counts as open for triage
// purposes.
func (t Ticket) Open() bool {
	return t.Status != "Closed"
}
