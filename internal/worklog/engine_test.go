package worklog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jiractl/internal/apperrors"
	"jiractl/pkg/models"
)

type fakeBooker struct {
	missing   map[string]bool
	probeErr  map[string]error
	addErr    map[string]error
	deleteErr error

	probes  int
	nextID  int
	added   []string
	deleted []string
}

func (f *fakeBooker) TicketExists(ctx context.Context, key string) error {
	f.probes++
	if err := f.probeErr[key]; err != nil {
		return err
	}
	if f.missing[key] {
		return fmt.Errorf("failed to find ticket %s: not found", key)
	}
	return nil
}

func (f *fakeBooker) AddWorklog(ctx context.Context, key string, started time.Time, minutes int, comment string) (string, error) {
	if err := f.addErr[key]; err != nil {
		return "", err
	}
	f.nextID++
	f.added = append(f.added, key)
	return fmt.Sprintf("%d", 10000+f.nextID), nil
}

func (f *fakeBooker) DeleteWorklog(ctx context.Context, key, worklogID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, key+"/"+worklogID)
	return nil
}

func entry(key string, minutes int) models.WorklogEntry {
	return models.WorklogEntry{
		TicketKey: key,
		Started:   time.Date(2024, time.January, 10, 9, 0, 0, 0, time.Local),
		Minutes:   minutes,
		Comment:   "test",
	}
}

func TestValidateChecksShapeThenExistence(t *testing.T) {
	booker := &fakeBooker{missing: map[string]bool{"GONE-1": true}}
	engine := NewEngine(booker)

	entries := []models.WorklogEntry{
		entry("ABC-1", 75),
		entry("ABC-1", 30),
		entry("GONE-1", 15),
		entry("ABC-2", 66),
		entry("", 15),
	}

	valid, rejected, err := engine.Validate(context.Background(), entries)
	require.NoError(t, err)
	require.Len(t, valid, 2)
	require.Len(t, rejected, 3)

	assert.Equal(t, "GONE-1", rejected[0].TicketKey)
	assert.Contains(t, rejected[0].Err.Error(), "not found")

	assert.Equal(t, "ABC-2", rejected[1].TicketKey)
	assert.ErrorIs(t, rejected[1].Err, apperrors.ErrInvalidFormat)
	assert.Contains(t, rejected[1].Err.Error(), "66")

	assert.ErrorIs(t, rejected[2].Err, apperrors.ErrInvalidFormat)
	assert.Contains(t, rejected[2].Err.Error(), "ticket number is empty")

	assert.Equal(t, 2, booker.probes, "one existence probe per distinct ticket")
}

func TestValidateRejectsMissingStart(t *testing.T) {
	engine := NewEngine(&fakeBooker{})

	_, rejected, err := engine.Validate(context.Background(), []models.WorklogEntry{
		{TicketKey: "ABC-1", Minutes: 15},
	})
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.ErrorIs(t, rejected[0].Err, apperrors.ErrInvalidFormat)
	assert.Contains(t, rejected[0].Err.Error(), "start date and time")
}

func TestValidateStopsWhenSessionIsLost(t *testing.T) {
	booker := &fakeBooker{probeErr: map[string]error{"ABC-1": apperrors.ErrAuthRequired}}
	engine := NewEngine(booker)

	valid, rejected, err := engine.Validate(context.Background(), []models.WorklogEntry{
		entry("ABC-1", 15),
		entry("ABC-2", 15),
	})
	require.ErrorIs(t, err, apperrors.ErrAuthRequired)
	assert.Empty(t, valid)
	assert.Empty(t, rejected)
}

func TestSubmitReportsEveryEntryInOrder(t *testing.T) {
	booker := &fakeBooker{addErr: map[string]error{
		"B-2": fmt.Errorf("POST worklog: %w", apperrors.ErrPermissionDenied),
	}}
	engine := NewEngine(booker)

	entries := []models.WorklogEntry{entry("B-1", 15), entry("B-2", 30), entry("B-3", 45)}
	var emitted []models.BulkOperationResult
	results, err := engine.Submit(context.Background(), entries, func(r models.BulkOperationResult) {
		emitted = append(emitted, r)
	})
	require.NoError(t, err, "a per-entry failure must not abort the run")
	require.Len(t, results, 3)
	assert.Equal(t, results, emitted)

	assert.Equal(t, models.OutcomeApplied, results[0].Outcome)
	assert.NotEmpty(t, results[0].WorklogID)
	assert.Equal(t, models.OutcomeFailed, results[1].Outcome)
	assert.ErrorIs(t, results[1].Err, apperrors.ErrPermissionDenied)
	assert.Empty(t, results[1].WorklogID)
	assert.Equal(t, models.OutcomeApplied, results[2].Outcome)

	assert.Equal(t, []string{"B-1", "B-3"}, booker.added)
}

func TestSubmitStopsWhenSessionIsLost(t *testing.T) {
	booker := &fakeBooker{addErr: map[string]error{"B-1": apperrors.ErrAuthRequired}}
	engine := NewEngine(booker)

	results, err := engine.Submit(context.Background(), []models.WorklogEntry{
		entry("B-1", 15),
		entry("B-2", 15),
	}, nil)
	require.ErrorIs(t, err, apperrors.ErrAuthRequired)
	require.Len(t, results, 1)
	assert.Equal(t, models.OutcomeFailed, results[0].Outcome)
	assert.Empty(t, booker.added)
}

func TestSubmitReturnsPartialResultsOnCancel(t *testing.T) {
	engine := NewEngine(&fakeBooker{})

	ctx, cancel := context.WithCancel(context.Background())
	results, err := engine.Submit(ctx, []models.WorklogEntry{
		entry("B-1", 15),
		entry("B-2", 15),
	}, func(models.BulkOperationResult) {
		cancel()
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 1)
	assert.Equal(t, models.OutcomeApplied, results[0].Outcome)
}

func TestUndoDeletesRecordedWorklog(t *testing.T) {
	booker := &fakeBooker{}
	engine := NewEngine(booker)

	err := engine.Undo(context.Background(), models.BulkOperationResult{TicketKey: "ABC-1", WorklogID: "10001"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ABC-1/10001"}, booker.deleted)
}

func TestUndoWithoutWorklogID(t *testing.T) {
	engine := NewEngine(&fakeBooker{})

	err := engine.Undo(context.Background(), models.BulkOperationResult{TicketKey: "ABC-1"})
	assert.ErrorIs(t, err, apperrors.ErrNoWorklogToUndo)
}

func TestUndoSurfacesDeleteFailure(t *testing.T) {
	booker := &fakeBooker{deleteErr: fmt.Errorf("tracker rejected the delete")}
	engine := NewEngine(booker)

	err := engine.Undo(context.Background(), models.BulkOperationResult{TicketKey: "ABC-1", WorklogID: "10002"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "10002")
}
