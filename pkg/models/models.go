// Package models defines data structures shared across the application.
package models

import (
	"time"
)

// Credential is an OAuth2 credential for the tracker API.
type Credential struct {
	// AccessToken is the bearer token sent with every tracker request
	AccessToken string `json:"access_token"`

	// RefreshToken renews the access token without user interaction.
	// Empty for terminal credentials that cannot be renewed.
	RefreshToken string `json:"refresh_token,omitempty"`

	// TokenType is the authorization scheme (normally "Bearer")
	TokenType string `json:"token_type"`

	// ExpiresAt is the instant the access token stops being accepted
	ExpiresAt time.Time `json:"expires_at"`

	// Scopes are the permissions granted to this credential
	Scopes []string `json:"scopes,omitempty"`
}

// Renewable reports whether the credential can be refreshed without
// sending the user through authorization again.
func (c Credential) Renewable() bool {
	return c.RefreshToken != ""
}

// SecondsLeft returns the remaining access token lifetime, rounded down.
// Negative once the token has expired.
func (c Credential) SecondsLeft(now time.Time) int {
	return int(c.ExpiresAt.Sub(now) / time.Second)
}

// AuthSession holds the transient state of a single authorization attempt.
// It is created when the authorization URL is built and consumed exactly
// once when the callback arrives. It is never reused.
type AuthSession struct {
	// ID names the local session the attempt belongs to
	ID string `json:"id"`

	// State is the random anti-forgery value echoed back by the provider
	State string `json:"state"`

	// CodeVerifier is the PKCE verifier the token exchange must present
	CodeVerifier string `json:"code_verifier"`

	// CreatedAt is when the authorization URL was issued
	CreatedAt time.Time `json:"created_at"`
}

// Site is the tracker cloud site a credential grants access to,
// discovered once after login.
type Site struct {
	// ID is the cloud identifier used in API base URLs
	ID string `json:"id"`

	// URL is the browsable site address (e.g. "https://acme.atlassian.net")
	URL string `json:"url"`

	// Name is the human-readable site name
	Name string `json:"name"`
}

// Ticket is one row of a tracker search result.
type Ticket struct {
	// Key is the full ticket identifier (e.g. "ABC-123")
	Key string

	// Summary is the ticket's one-line title
	Summary string

	// Status is the current workflow status name
	Status string

	// Assignee is the display name of the current assignee, if any
	Assignee string

	// Labels are the labels currently attached to the ticket
	Labels []string

	// Link is the browsable ticket URL on the tracker site
	Link string
}

// Profile identifies the authenticated tracker user.
type Profile struct {
	// AccountID is the tracker-internal user identifier
	AccountID string

	// DisplayName is the user's human-readable name
	DisplayName string

	// Email is the user's address, when the tracker exposes it
	Email string
}

// Project is a tracker project visible to the authenticated user.
type Project struct {
	// Key is the short project key used in ticket identifiers
	Key string

	// Name is the project's display name
	Name string
}

// TicketLabelPlan is the computed label change for one ticket. Plans are
// derived from live ticket state, previewed, and recomputed on every run;
// they are never persisted.
type TicketLabelPlan struct {
	// TicketKey is the ticket the plan applies to
	TicketKey string

	// Summary is carried along for preview output
	Summary string

	// CurrentLabels is the label set read from the ticket
	CurrentLabels []string

	// NewLabels is the label set after removing old project codes and
	// appending the target code
	NewLabels []string

	// TargetCode is the project code being assigned
	TargetCode string
}

// Outcome classifies the result of one item within a bulk operation.
type Outcome string

const (
	// OutcomeApplied means the mutation was performed
	OutcomeApplied Outcome = "applied"

	// OutcomeSkipped means the item was already in the target state
	OutcomeSkipped Outcome = "skipped"

	// OutcomeFailed means the mutation was attempted and rejected
	OutcomeFailed Outcome = "failed"
)

// BulkOperationResult is the per-item record of a bulk operation. Results
// are emitted in input order, one per item, and never mutated afterwards.
type BulkOperationResult struct {
	// TicketKey is the item the result describes
	TicketKey string

	// Outcome says what happened to the item
	Outcome Outcome

	// Err carries the failure reason when Outcome is OutcomeFailed
	Err error

	// WorklogID is the identifier of a created worklog, when the
	// operation produces one
	WorklogID string
}

// WorklogEntry is one validated time booking ready for submission.
type WorklogEntry struct {
	// TicketKey is the ticket the time is booked on
	TicketKey string `validate:"required"`

	// Started is the date and start time of the work
	Started time.Time `validate:"required"`

	// Minutes is the booked duration. Always a positive multiple of 15.
	Minutes int `validate:"required,gt=0,quarterhours"`

	// Comment is an optional free-text description
	Comment string

	// Line is the 1-based line of the import file the entry came from,
	// zero when the entry was built directly
	Line int `validate:"-"`
}

// Seconds returns the booked duration in seconds, the unit the tracker
// API expects.
func (e WorklogEntry) Seconds() int {
	return e.Minutes * 60
}

// LastWorklog remembers the most recent single worklog submission so it
// can be undone.
type LastWorklog struct {
	// TicketKey is the ticket the worklog was added to
	TicketKey string `json:"ticket_key"`

	// WorklogID is the tracker-assigned worklog identifier
	WorklogID string `json:"worklog_id"`

	// RecordedAt is when the worklog was submitted
	RecordedAt time.Time `json:"recorded_at"`
}
