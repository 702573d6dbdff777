package worklog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"jiractl/internal/apperrors"
	"jiractl/internal/logging"
	"jiractl/pkg/models"
)

// Client is the slice of the tracker API the engine needs.
type Client interface {
	TicketExists(ctx context.Context, key string) error
	AddWorklog(ctx context.Context, key string, started time.Time, minutes int, comment string) (string, error)
	DeleteWorklog(ctx context.Context, key, worklogID string) error
}

// Engine validates and submits worklog entries and can undo a single
// submission.
type Engine struct {
	client   Client
	validate *validator.Validate
}

// NewEngine returns an Engine that books time through client.
func NewEngine(client Client) *Engine {
	v := validator.New()
	_ = v.RegisterValidation("quarterhours", func(fl validator.FieldLevel) bool {
		return fl.Field().Int()%15 == 0
	})
	return &Engine{client: client, validate: v}
}

// Validate checks entries ahead of submission: field shape first, then one
// existence probe per distinct ticket. Valid entries and rejections come
// back in input order; nothing is booked yet, so a caller can show every
// problem before committing.
func (e *Engine) Validate(ctx context.Context, entries []models.WorklogEntry) ([]models.WorklogEntry, []Invalid, error) {
	valid := make([]models.WorklogEntry, 0, len(entries))
	var rejected []Invalid
	probed := make(map[string]error)

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return valid, rejected, err
		}

		if err := e.validate.Struct(entry); err != nil {
			rejected = append(rejected, Invalid{Line: entry.Line, TicketKey: entry.TicketKey, Err: fieldError(err)})
			continue
		}

		probe, seen := probed[entry.TicketKey]
		if !seen {
			probe = e.client.TicketExists(ctx, entry.TicketKey)
			if errors.Is(probe, apperrors.ErrAuthRequired) {
				return valid, rejected, probe
			}
			probed[entry.TicketKey] = probe
		}
		if probe != nil {
			rejected = append(rejected, Invalid{Line: entry.Line, TicketKey: entry.TicketKey, Err: probe})
			continue
		}

		valid = append(valid, entry)
	}
	return valid, rejected, nil
}

// Submit books every entry as its own worklog and returns one result per
// entry in input order. Applied results carry the created worklog id,
// which is all undo needs. A failed entry does not stop the rest; only
// cancellation and a lost session do, returning the results accumulated
// so far. emit, when non-nil, receives each result as it is recorded.
func (e *Engine) Submit(ctx context.Context, entries []models.WorklogEntry, emit func(models.BulkOperationResult)) ([]models.BulkOperationResult, error) {
	results := make([]models.BulkOperationResult, 0, len(entries))
	record := func(r models.BulkOperationResult) {
		results = append(results, r)
		if emit != nil {
			emit(r)
		}
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		id, err := e.client.AddWorklog(ctx, entry.TicketKey, entry.Started, entry.Minutes, entry.Comment)
		if err != nil {
			record(models.BulkOperationResult{TicketKey: entry.TicketKey, Outcome: models.OutcomeFailed, Err: err})
			if errors.Is(err, apperrors.ErrAuthRequired) {
				return results, err
			}
			logging.Warn("worklog submission failed", "ticket", entry.TicketKey, "error", err)
			continue
		}
		logging.Debug("worklog created", "ticket", entry.TicketKey, "worklog_id", id, "minutes", entry.Minutes)
		record(models.BulkOperationResult{TicketKey: entry.TicketKey, Outcome: models.OutcomeApplied, WorklogID: id})
	}
	return results, nil
}

// Undo deletes the worklog a result points at. Only applied results carry
// a worklog id; anything else has nothing to undo.
func (e *Engine) Undo(ctx context.Context, result models.BulkOperationResult) error {
	if result.TicketKey == "" || result.WorklogID == "" {
		return apperrors.ErrNoWorklogToUndo
	}
	if err := e.client.DeleteWorklog(ctx, result.TicketKey, result.WorklogID); err != nil {
		return fmt.Errorf("failed to delete worklog %s on %s: %w", result.WorklogID, result.TicketKey, err)
	}
	logging.Info("worklog deleted", "ticket", result.TicketKey, "worklog_id", result.WorklogID)
	return nil
}

// fieldError rewrites validator output into the rejection wording users
// see in import previews.
func fieldError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	fe := verrs[0]
	switch {
	case fe.Field() == "TicketKey":
		return fmt.Errorf("%w: ticket number is empty", apperrors.ErrInvalidFormat)
	case fe.Field() == "Started":
		return fmt.Errorf("%w: start date and time are missing", apperrors.ErrInvalidFormat)
	case fe.Field() == "Minutes" && fe.Tag() == "quarterhours":
		return fmt.Errorf("%w: %v minutes is not a multiple of 15", apperrors.ErrInvalidFormat, fe.Value())
	case fe.Field() == "Minutes":
		return fmt.Errorf("%w: duration must be positive", apperrors.ErrInvalidFormat)
	default:
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidFormat, fe.Error())
	}
}
