// Package slack delivers triage notifications: webhook posts with
// interactive controls, real-user posts for messages other integrations
// must notice, and the interactive callback payloads coming back.
package slack

import (
	"fmt"
	"strings"

	"github.com/topher200/assertion-context/internal/correlate"
	"github.com/topher200/assertion-context/internal/entity"
	"github.com/topher200/assertion-context/internal/jira"
)

// Message is a webhook payload.
type Message struct {
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type Attachment struct {
	Text           string   `json:"text,omitempty"`
	Short          bool     `json:"short,omitempty"`
	Color          string   `json:"color,omitempty"`
	CallbackID     string   `json:"callback_id,omitempty"`
	AttachmentType string   `json:"attachment_type,omitempty"`
	Fallback       string   `json:"fallback,omitempty"`
	Actions        []Action `json:"actions,omitempty"`
}

type Action struct {
	Name       string   `json:"name"`
	Text       string   `json:"text"`
	Type       string   `json:"type"`
	Options    []Option `json:"options,omitempty"`
	DataSource string   `json:"data_source,omitempty"`
}

type Option struct {
	Text  string `json:"text"`
	Value string `json:"value"`
}

// Action names carried in interactive callbacks.
const (
	ActionCreateTicket        = "create_ticket"
	ActionAddToExistingTicket = "add_to_existing_ticket"
)

const (
	// Slack splits long messages; keep the inline preview small and put
	// the full context in an attachment.
	previewLines       = 5
	previewCharsByLine = 200
	maxRenderedHits    = 40
)

// teamOptions are the assignment choices in the create-ticket dropdown.
var teamOptions = []Option{
	{Text: "Unassigned", Value: "UNASSIGNED"},
	{Text: "Adwords", Value: "ADWORDS"},
	{Text: "Bing", Value: "BING"},
	{Text: "Social", Value: "SOCIAL"},
	{Text: "Grader", Value: "GRADER"},
}

func codeBlock(text string) string {
	return fmt.Sprintf("\n```\n%s```", text)
}

// BuildTracebackMessage renders one correlated traceback as the full
// interactive notification.
func BuildTracebackMessage(result correlate.Result) Message {
	tb := result.Traceback

	lines := strings.Split(tb.TracebackPlusContextText, "\n")
	if len(lines) > previewLines {
		lines = lines[len(lines)-previewLines:]
	}
	for i, line := range lines {
		if runes := []rune(line); len(runes) > previewCharsByLine {
			lines[i] = string(runes[:previewCharsByLine])
		}
	}

	hits := result.SimilarTracebacks
	if len(hits) > maxRenderedHits {
		hits = hits[:maxRenderedHits]
	}
	hitLines := make([]string, len(hits))
	for i, similar := range hits {
		hitLines[i] = slackHitLine(similar)
	}

	issueLines := make([]string, len(result.JiraIssues))
	for i, issue := range result.JiraIssues {
		assignee := issue.Assignee
		if assignee == "" {
			assignee = "Unassigned"
		}
		issueLines[i] = fmt.Sprintf("\n- <%s|%s>, %s, %s: %s\n",
			issue.URL, issue.Key, strings.ToUpper(issue.Status), assignee, issue.Summary)
	}

	return Message{
		Text: codeBlock(strings.Join(lines, "\n") + "\n"),
		Attachments: []Attachment{
			{Text: codeBlock(tb.TracebackPlusContextText + "\n")},
			{Text: strings.Join(hitLines, "\n"), Short: true},
			{Text: strings.Join(issueLines, "\n"), Short: true},
			{
				CallbackID:     tb.OriginPapertrailID,
				Color:          "#007ABD",
				AttachmentType: "default",
				Fallback:       "Create Jira Ticket",
				Short:          true,
				Actions: []Action{
					{
						Name:    ActionCreateTicket,
						Text:    "Create a Jira ticket...",
						Type:    "select",
						Options: teamOptions,
					},
					{
						Name:       ActionAddToExistingTicket,
						Text:       "Add to existing ticket",
						Type:       "select",
						DataSource: "external",
					},
				},
			},
		},
	}
}

// slackHitLine renders one prior occurrence as a dated Papertrail link,
// slack link syntax.
func slackHitLine(tb entity.Traceback) string {
	return fmt.Sprintf("- <%s|%s>", tb.PapertrailURL(),
		tb.OriginTimestamp.Format("Jan 02 2006 15:04:05"))
}

// AcknowledgeMessage replaces an interactive message after its action
// ran.
func AcknowledgeMessage(text string) Message {
	return Message{Text: text}
}

// TicketCreatedText announces a successful dropdown creation, with the
// key linked to the tracker.
func TicketCreatedText(key string, serverURL string) string {
	return fmt.Sprintf("<%s|%s> created!", jira.IssueURL(serverURL, key), key)
}
