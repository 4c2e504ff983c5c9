package jira

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gojira "github.com/andygrunwald/go-jira"
	"go.uber.org/zap"

	"github.com/topher200/assertion-context/internal/entity"
	"github.com/topher200/assertion-context/internal/sched"
)

const searchBatchSize = 50

// Client wraps the tracker's REST API for the handful of operations the
// service performs.
type Client struct {
	jira       *gojira.Client
	serverURL  string
	projectKey string
	assignees  map[string]string
	log        *zap.Logger
}

type Config struct {
	ServerURL  string
	Username   string
	Password   string
	ProjectKey string
	// Assignees maps a team name to a tracker username.
	Assignees map[string]string
}

func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	transport := gojira.BasicAuthTransport{Username: cfg.Username, Password: cfg.Password}
	jiraClient, err := gojira.NewClient(transport.Client(), cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("jira client: %w", err)
	}
	return &Client{
		jira:       jiraClient,
		serverURL:  cfg.ServerURL,
		projectKey: cfg.ProjectKey,
		assignees:  cfg.Assignees,
		log:        log,
	}, nil
}

// GetIssue fetches one issue. A deleted or never-existing issue comes
// back as (nil, nil).
func (c *Client) GetIssue(ctx context.Context, key string) (*entity.Ticket, error) {
	issue, resp, err := c.jira.Issue.GetWithContext(ctx, key, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == 404 {
			c.log.Warn("issue not found, was it deleted?", zap.String("key", key))
			return nil, nil
		}
		return nil, fmt.Errorf("get issue %s: %w", key, err)
	}
	ticket := c.ticketFromIssue(issue)
	return &ticket, nil
}

var errIssueMissing = errors.New("issue not found")

// GetIssueWithRetries re-fetches a nil issue a few times before
// concluding it was really deleted. The tracker occasionally 404s on
// issues created moments ago.
func (c *Client) GetIssueWithRetries(ctx context.Context, key string) (*entity.Ticket, error) {
	var ticket *entity.Ticket
	err := sched.Retry(ctx, sched.RetryPolicy{
		Attempts:  5,
		Retryable: func(err error) bool { return errors.Is(err, errIssueMissing) },
	}, func() error {
		var err error
		ticket, err = c.GetIssue(ctx, key)
		if err != nil {
			return err
		}
		if ticket == nil {
			return errIssueMissing
		}
		return nil
	})
	if errors.Is(err, errIssueMissing) {
		return nil, nil
	}
	return ticket, err
}

// CreateIssue opens a Bug with the standard triage fields and returns
// its key. team selects the assignee mapping; unassigned teams leave
// the tracker's default assignment in place.
func (c *Client) CreateIssue(ctx context.Context, title, description, team string) (string, error) {
	fields := &gojira.IssueFields{
		Project:     gojira.Project{Key: c.projectKey},
		Summary:     title,
		Description: description,
		Type:        gojira.IssueType{Name: "Bug"},
		Priority:    &gojira.Priority{Name: "Critical"},
		Labels:      []string{"tracebacks"},
	}
	if assignee, ok := c.assignees[team]; ok {
		fields.Assignee = &gojira.User{Name: assignee}
	}
	issue, _, err := c.jira.Issue.CreateWithContext(ctx, &gojira.Issue{Fields: fields})
	if err != nil {
		return "", fmt.Errorf("create issue: %w", err)
	}
	c.log.Info("created jira issue", zap.String("key", issue.Key))
	return issue.Key, nil
}

// AddComment leaves a comment on the issue.
func (c *Client) AddComment(ctx context.Context, key, body string) error {
	_, _, err := c.jira.Issue.AddCommentWithContext(ctx, key, &gojira.Comment{Body: body})
	if err != nil {
		return fmt.Errorf("comment on %s: %w", key, err)
	}
	c.log.Info("added comment to issue", zap.String("key", key))
	return nil
}

// ListProjectKeys scans the whole project, fetching keys only. The
// tracker caps page sizes, so pagination is ours.
func (c *Client) ListProjectKeys(ctx context.Context) ([]string, error) {
	var keys []string
	startAt := 0
	for {
		issues, _, err := c.jira.Issue.SearchWithContext(ctx,
			fmt.Sprintf("project=%s", c.projectKey),
			&gojira.SearchOptions{
				StartAt:    startAt,
				MaxResults: searchBatchSize,
				Fields:     []string{"key"},
			})
		if err != nil {
			return nil, fmt.Errorf("search project %s: %w", c.projectKey, err)
		}
		if len(issues) == 0 {
			return keys, nil
		}
		for _, issue := range issues {
			keys = append(keys, issue.Key)
		}
		c.log.Info("scanned jira issues",
			zap.Int("from", startAt), zap.Int("to", startAt+searchBatchSize))
		startAt += searchBatchSize
	}
}

// ticketFromIssue converts the tracker's issue into our mirror form,
// computing the metadata-filtered fields.
func (c *Client) ticketFromIssue(issue *gojira.Issue) entity.Ticket {
	var comments []string
	if issue.Fields.Comments != nil {
		for _, comment := range issue.Fields.Comments.Comments {
			comments = append(comments, comment.Body)
		}
	}
	commentsText := strings.Join(comments, entity.CommentSeparator)

	ticket := entity.Ticket{
		Key:                 issue.Key,
		URL:                 IssueURL(c.serverURL, issue.Key),
		Summary:             issue.Fields.Summary,
		Description:         issue.Fields.Description,
		DescriptionFiltered: FilterPapertrailMetadata(issue.Fields.Description),
		Comments:            commentsText,
		CommentsFiltered:    FilterPapertrailMetadata(commentsText),
		Created:             entity.NewTimestamp(time.Time(issue.Fields.Created)),
		Updated:             entity.NewTimestamp(time.Time(issue.Fields.Updated)),
	}
	if issue.Fields.Type.Name != "" {
		ticket.IssueType = issue.Fields.Type.Name
	}
	if issue.Fields.Status != nil {
		ticket.Status = issue.Fields.Status.Name
	}
	if issue.Fields.Assignee != nil {
		ticket.Assignee = issue.Fields.Assignee.Name
	}
	return ticket
}
