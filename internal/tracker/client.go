// Package tracker wraps the issue tracker's REST API behind a small
// client whose every request is paced, retried and re-authorized by a
// shared resilient transport.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	jira "github.com/andygrunwald/go-jira"

	"jiractl/internal/apperrors"
	"jiractl/internal/config"
	"jiractl/internal/logging"
	"jiractl/pkg/models"
)

// DefaultExcludedStatuses hides closed and cancelled tickets from
// searches while keeping resolved ones visible.
var DefaultExcludedStatuses = []string{"Closed", "Geschlossen", "Abgebrochen"}

// Client handles interactions with the tracker API for one session.
type Client struct {
	jira *jira.Client
	site models.Site
}

// New creates a tracker client addressed to the session's site. All
// traffic runs through the resilient transport, so callers never deal
// with pacing, retries or token refresh themselves.
func New(cfg config.TrackerConfig, creds CredentialSource, site models.Site, session string) (*Client, error) {
	httpClient := &http.Client{
		Transport: NewTransport(creds, session),
		Timeout:   cfg.HTTPTimeout,
	}

	base := fmt.Sprintf("%s/ex/jira/%s/", strings.TrimRight(cfg.APIURL, "/"), site.ID)
	jiraClient, err := jira.NewClient(httpClient, base)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracker client: %v", err)
	}

	return &Client{jira: jiraClient, site: site}, nil
}

// Site returns the tracker site the client talks to.
func (c *Client) Site() models.Site {
	return c.site
}

// SearchIssues streams every ticket matching the filter through fn,
// fetching result pages transparently. The stream is a single finite
// pass; fn returning an error stops it.
func (c *Client) SearchIssues(ctx context.Context, projects []string, text string, excludedStatuses []string, fn func(models.Ticket) error) error {
	if len(projects) == 0 {
		return fmt.Errorf("at least one project key is required")
	}

	jql := buildJQL(projects, text, excludedStatuses)
	opts := &jira.SearchOptions{
		MaxResults: 50,
		Fields:     []string{"summary", "status", "assignee", "labels"},
	}

	logging.Debug("searching tickets", "jql", jql)

	err := c.jira.Issue.SearchPagesWithContext(ctx, jql, opts, func(issue jira.Issue) error {
		return fn(c.ticketFromIssue(issue))
	})
	if err != nil {
		return wrapErr("search tickets", err)
	}
	return nil
}

// GetLabels reads the current label set of a ticket.
func (c *Client) GetLabels(ctx context.Context, key string) ([]string, error) {
	issue, _, err := c.jira.Issue.GetWithContext(ctx, key, &jira.GetQueryOptions{Fields: "labels"})
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("read labels of %s", key), err)
	}
	if issue.Fields == nil {
		return nil, nil
	}
	return issue.Fields.Labels, nil
}

// SetLabels replaces the full label set of a ticket.
func (c *Client) SetLabels(ctx context.Context, key string, labels []string) error {
	if labels == nil {
		labels = []string{}
	}

	payload := map[string]interface{}{
		"update": map[string]interface{}{
			"labels": []map[string]interface{}{
				{"set": labels},
			},
		},
	}

	if _, err := c.jira.Issue.UpdateIssueWithContext(ctx, key, payload); err != nil {
		return wrapErr(fmt.Sprintf("update labels of %s", key), err)
	}
	return nil
}

// TicketExists checks that a ticket is visible to the credential, used
// to validate worklog targets before any time is booked.
func (c *Client) TicketExists(ctx context.Context, key string) error {
	_, _, err := c.jira.Issue.GetWithContext(ctx, key, &jira.GetQueryOptions{Fields: "summary"})
	if err != nil {
		return wrapErr(fmt.Sprintf("find ticket %s", key), err)
	}
	return nil
}

// AddWorklog books time on a ticket and returns the created worklog id.
func (c *Client) AddWorklog(ctx context.Context, key string, started time.Time, minutes int, comment string) (string, error) {
	startedAt := jira.Time(started)
	record := &jira.WorklogRecord{
		Started:          &startedAt,
		TimeSpentSeconds: minutes * 60,
	}
	if strings.TrimSpace(comment) != "" {
		record.Comment = comment
	}

	created, _, err := c.jira.Issue.AddWorklogRecordWithContext(ctx, key, record)
	if err != nil {
		return "", wrapErr(fmt.Sprintf("add worklog to %s", key), err)
	}
	return created.ID, nil
}

// DeleteWorklog removes a previously created worklog. The library carries
// no call for this endpoint, so the request is built directly.
func (c *Client) DeleteWorklog(ctx context.Context, key, worklogID string) error {
	apiEndpoint := fmt.Sprintf("rest/api/2/issue/%s/worklog/%s", key, worklogID)
	req, err := c.jira.NewRequestWithContext(ctx, http.MethodDelete, apiEndpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build worklog delete request: %v", err)
	}

	if _, err := c.jira.Do(req, nil); err != nil {
		return wrapErr(fmt.Sprintf("delete worklog %s of %s", worklogID, key), err)
	}
	return nil
}

// Myself returns the authenticated user's profile. It doubles as the
// cheapest end-to-end reachability probe for health checks.
func (c *Client) Myself(ctx context.Context) (models.Profile, error) {
	user, _, err := c.jira.User.GetSelfWithContext(ctx)
	if err != nil {
		return models.Profile{}, wrapErr("fetch own profile", err)
	}
	return models.Profile{
		AccountID:   user.AccountID,
		DisplayName: user.DisplayName,
		Email:       user.EmailAddress,
	}, nil
}

// Projects lists the projects visible to the authenticated user.
func (c *Client) Projects(ctx context.Context) ([]models.Project, error) {
	list, _, err := c.jira.Project.GetListWithContext(ctx)
	if err != nil {
		return nil, wrapErr("list projects", err)
	}

	projects := make([]models.Project, 0, len(*list))
	for _, p := range *list {
		projects = append(projects, models.Project{Key: p.Key, Name: p.Name})
	}
	return projects, nil
}

// MyPermissions reports which of the named permissions the tracker
// grants. Without arguments it checks the ones the bulk operations need.
func (c *Client) MyPermissions(ctx context.Context, permissions ...string) (map[string]bool, error) {
	if len(permissions) == 0 {
		permissions = []string{"EDIT_ISSUES", "WORK_ON_ISSUES"}
	}

	apiEndpoint := "rest/api/2/mypermissions?permissions=" + url.QueryEscape(strings.Join(permissions, ","))
	req, err := c.jira.NewRequestWithContext(ctx, http.MethodGet, apiEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build permissions request: %v", err)
	}

	var out struct {
		Permissions map[string]struct {
			HavePermission bool `json:"havePermission"`
		} `json:"permissions"`
	}
	if _, err := c.jira.Do(req, &out); err != nil {
		return nil, wrapErr("check permissions", err)
	}

	granted := make(map[string]bool, len(out.Permissions))
	for name, p := range out.Permissions {
		granted[name] = p.HavePermission
	}
	return granted, nil
}

// ticketFromIssue flattens the library's issue shape into the fields the
// commands display.
func (c *Client) ticketFromIssue(issue jira.Issue) models.Ticket {
	t := models.Ticket{Key: issue.Key}
	if c.site.URL != "" {
		t.Link = c.site.URL + "/browse/" + issue.Key
	}
	if issue.Fields == nil {
		return t
	}

	t.Summary = issue.Fields.Summary
	t.Labels = issue.Fields.Labels
	if issue.Fields.Status != nil {
		t.Status = issue.Fields.Status.Name
	}
	if issue.Fields.Assignee != nil {
		t.Assignee = issue.Fields.Assignee.DisplayName
	}
	return t
}

// buildJQL assembles the search filter: selected projects, an optional
// full-text term, and the status exclusion list.
func buildJQL(projects []string, text string, excludedStatuses []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "project in (%s)", strings.Join(projects, ","))

	if text != "" {
		b.WriteString(" AND text ~ ")
		b.WriteString(quoteJQL(text))
	}

	if len(excludedStatuses) > 0 {
		quoted := make([]string, len(excludedStatuses))
		for i, s := range excludedStatuses {
			quoted[i] = quoteJQL(s)
		}
		fmt.Fprintf(&b, " AND status not in (%s)", strings.Join(quoted, ","))
	}

	return b.String()
}

// quoteJQL wraps a value for use inside a JQL string literal.
func quoteJQL(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// wrapErr keeps sentinel classifications visible through the library's
// error wrapping and gives everything else one consistent shape.
func wrapErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperrors.ErrAuthRequired),
		errors.Is(err, apperrors.ErrPermissionDenied),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("failed to %s: %v", op, err)
	}
}
