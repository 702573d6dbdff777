// Package labels assigns a normalized project code to sets of tickets.
//
// A project code is a label of the form "P" followed by six digits. A
// ticket carries at most one of them; assigning a code replaces every
// code-like label already present.
package labels

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"jiractl/internal/apperrors"
	"jiractl/internal/logging"
	"jiractl/pkg/models"
)

var (
	// codePattern is the normalized project-code form accepted as a target.
	codePattern = regexp.MustCompile(`^P[0-9]{6}$`)

	// stripPattern matches the labels replaced during planning. Stale codes
	// on old tickets are not always well formed ("PA", "P12"), so stripping
	// accepts any uppercase alphanumeric tail, not only the six-digit form.
	stripPattern = regexp.MustCompile(`^P[A-Z0-9]+$`)
)

// ValidCode reports whether code is a well-formed project code.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// NewLabels returns the label set a ticket should end up with: current
// labels minus anything code-like, plus the target code.
func NewLabels(current []string, targetCode string) []string {
	labels := make([]string, 0, len(current)+1)
	for _, l := range current {
		if stripPattern.MatchString(l) {
			continue
		}
		labels = append(labels, l)
	}
	return append(labels, targetCode)
}

// Client is the slice of the tracker API the engine needs.
type Client interface {
	GetLabels(ctx context.Context, key string) ([]string, error)
	SetLabels(ctx context.Context, key string, labels []string) error
}

// Engine plans and applies project-code assignments across many tickets.
type Engine struct {
	client Client
}

// NewEngine returns an Engine that mutates tickets through client.
func NewEngine(client Client) *Engine {
	return &Engine{client: client}
}

// Plan reads the current labels of every ticket and computes the label set
// each one should end up with. The target code is validated before any
// network call; plans are recomputed from live state on every run and
// never persisted.
func (e *Engine) Plan(ctx context.Context, ticketKeys []string, targetCode string) ([]models.TicketLabelPlan, error) {
	if !ValidCode(targetCode) {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrInvalidProjectCode, targetCode)
	}

	plans := make([]models.TicketLabelPlan, 0, len(ticketKeys))
	for _, key := range ticketKeys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current, err := e.client.GetLabels(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read labels of %s: %w", key, err)
		}
		plans = append(plans, models.TicketLabelPlan{
			TicketKey:     key,
			CurrentLabels: current,
			NewLabels:     NewLabels(current, targetCode),
			TargetCode:    targetCode,
		})
	}
	return plans, nil
}

// PlanFromTickets computes plans for tickets that already carry their
// labels, such as search results, saving one read per ticket.
func PlanFromTickets(tickets []models.Ticket, targetCode string) ([]models.TicketLabelPlan, error) {
	if !ValidCode(targetCode) {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrInvalidProjectCode, targetCode)
	}

	plans := make([]models.TicketLabelPlan, 0, len(tickets))
	for _, t := range tickets {
		plans = append(plans, models.TicketLabelPlan{
			TicketKey:     t.Key,
			Summary:       t.Summary,
			CurrentLabels: t.Labels,
			NewLabels:     NewLabels(t.Labels, targetCode),
			TargetCode:    targetCode,
		})
	}
	return plans, nil
}

// Apply pushes every plan to the tracker, one ticket at a time, and returns
// one result per plan in input order. Tickets already in the target state
// are skipped without a call. A ticket's failure is recorded and the run
// moves on; only cancellation and a lost session stop it early, returning
// the results accumulated so far. emit, when non-nil, receives each result
// as soon as it is recorded.
func (e *Engine) Apply(ctx context.Context, plans []models.TicketLabelPlan, emit func(models.BulkOperationResult)) ([]models.BulkOperationResult, error) {
	results := make([]models.BulkOperationResult, 0, len(plans))
	record := func(r models.BulkOperationResult) {
		results = append(results, r)
		if emit != nil {
			emit(r)
		}
	}

	for _, plan := range plans {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		if sameSet(plan.CurrentLabels, plan.NewLabels) {
			logging.Debug("labels already in target state", "ticket", plan.TicketKey, "code", plan.TargetCode)
			record(models.BulkOperationResult{TicketKey: plan.TicketKey, Outcome: models.OutcomeSkipped})
			continue
		}

		if err := e.client.SetLabels(ctx, plan.TicketKey, plan.NewLabels); err != nil {
			record(models.BulkOperationResult{TicketKey: plan.TicketKey, Outcome: models.OutcomeFailed, Err: err})
			if errors.Is(err, apperrors.ErrAuthRequired) {
				return results, err
			}
			logging.Warn("label update failed", "ticket", plan.TicketKey, "error", err)
			continue
		}
		logging.Debug("label applied", "ticket", plan.TicketKey, "code", plan.TargetCode)
		record(models.BulkOperationResult{TicketKey: plan.TicketKey, Outcome: models.OutcomeApplied})
	}
	return results, nil
}

func sameSet(a, b []string) bool {
	seen := make(map[string]struct{}, len(a))
	for _, s := range a {
		seen[s] = struct{}{}
	}
	rest := make(map[string]struct{}, len(b))
	for _, s := range b {
		if _, ok := seen[s]; !ok {
			return false
		}
		rest[s] = struct{}{}
	}
	return len(seen) == len(rest)
}
