package jira

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/topher200/assertion-context/internal/entity"
)

const descriptionTemplate = `Error observed in production.

{noformat}
%s
{noformat}

Hits on this error:
%s
`

const commentTemplate = `Errors observed in production:
%s
`

// hitTemplate renders one occurrence as a dated Papertrail link.
const hitTemplate = ` - [%s|https://papertrailapp.com/systems/%s/events?focus=%s]`

const hitTimestampLayout = "Jan 02 2006 15:04:05"

// referencedIDRegex finds Papertrail ids already linked from a ticket,
// whether via our hits links or pasted event-viewer URLs.
var referencedIDRegex = regexp.MustCompile(`(?:focus|centered_on_id)=(\d{18})`)

// CreateTitle summarizes a traceback as its final line, which is the
// exception message itself.
func CreateTitle(tracebackText string) string {
	lines := strings.Split(strings.TrimRight(tracebackText, "\n"), "\n")
	return lines[len(lines)-1]
}

// CreateDescription builds the ticket body from a set of tracebacks
// sharing a text. The first is taken as the master whose full context
// gets quoted; the rest only appear in the hits list.
func CreateDescription(tracebacks []entity.Traceback) string {
	if len(tracebacks) == 0 {
		return ""
	}
	master := tracebacks[0]
	return fmt.Sprintf(descriptionTemplate,
		strings.TrimRight(master.TracebackPlusContextText, " \n"),
		hitsList(tracebacks))
}

// CreateCommentWithHits renders recent occurrences for an existing
// ticket, newest first.
func CreateCommentWithHits(tracebacks []entity.Traceback) string {
	sorted := append([]entity.Traceback{}, tracebacks...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].OriginPapertrailID > sorted[j].OriginPapertrailID
	})
	return fmt.Sprintf(commentTemplate, hitsList(sorted))
}

// FormattedHit renders a single occurrence line, shared by ticket
// bodies and the copy/paste hits endpoint.
func FormattedHit(tb entity.Traceback) string {
	return fmt.Sprintf(hitTemplate,
		tb.OriginTimestamp.Format(hitTimestampLayout),
		tb.InstanceID,
		tb.OriginPapertrailID)
}

func hitsList(tracebacks []entity.Traceback) string {
	lines := make([]string, len(tracebacks))
	for i, tb := range tracebacks {
		lines[i] = FormattedHit(tb)
	}
	return strings.Join(lines, "\n")
}

// LatestReferencedID scans a ticket's description and comments for the
// newest Papertrail id already linked. Papertrail ids are ordered, so
// anything newer than this id is a new hit worth commenting about.
func LatestReferencedID(ticket entity.Ticket) (int64, bool) {
	var latest int64
	found := false
	for _, text := range []string{ticket.Description, ticket.Comments} {
		for _, m := range referencedIDRegex.FindAllStringSubmatch(text, -1) {
			id, err := strconv.ParseInt(m[1], 10, 64)
			if err != nil {
				continue
			}
			if id > latest {
				latest = id
				found = true
			}
		}
	}
	return latest, found
}

// IssueURL is the user-facing link to an issue, as opposed to the REST
// resource.
func IssueURL(serverURL, key string) string {
	return strings.TrimRight(serverURL, "/") + "/browse/" + key
}
