package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"jiractl/internal/apperrors"
	"jiractl/internal/auth"
	"jiractl/internal/config"
	"jiractl/internal/logging"
	"jiractl/internal/store"
	"jiractl/internal/tracker"
	"jiractl/pkg/models"
)

// app bundles what every command needs: configuration, the open
// credential store and the authenticator bound to it.
type app struct {
	cfg   *config.Config
	store *store.Store
	auth  *auth.Authenticator
}

// newApp loads configuration and opens the credential store. Callers
// own Close.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Storage.DatabaseURL, cfg.Storage.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %v", err)
	}

	return &app{cfg: cfg, store: st, auth: auth.New(cfg.Tracker, st)}, nil
}

// Close releases the credential store.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		logging.Warn("failed to close credential store", "error", err)
	}
}

// trackerClient builds a tracker client addressed to the session's
// resolved site. A session with no site has never completed a login.
func (a *app) trackerClient(ctx context.Context, session string) (*tracker.Client, error) {
	site, err := a.store.LoadSite(ctx, session)
	if errors.Is(err, apperrors.ErrSiteNotResolved) {
		return nil, apperrors.ErrAuthRequired
	}
	if err != nil {
		return nil, err
	}
	return tracker.New(a.cfg.Tracker, a.auth, site, session)
}

// sessionName returns the session selected with --session.
func sessionName(cmd *cobra.Command) string {
	s, err := cmd.Flags().GetString("session")
	if err != nil || s == "" {
		return "default"
	}
	return s
}

// confirm asks for interactive approval on the command's input stream.
// Anything but an explicit yes declines.
func confirm(cmd *cobra.Command, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)

	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// printResult writes one line per processed item as the engines emit
// them, so long runs show progress and interrupted runs show what
// already happened.
func printResult(r models.BulkOperationResult) {
	switch r.Outcome {
	case models.OutcomeApplied:
		if r.WorklogID != "" {
			fmt.Printf("  applied  %-14s worklog %s\n", r.TicketKey, r.WorklogID)
			return
		}
		fmt.Printf("  applied  %s\n", r.TicketKey)
	case models.OutcomeSkipped:
		fmt.Printf("  skipped  %s (already in the requested state)\n", r.TicketKey)
	case models.OutcomeFailed:
		fmt.Printf("  failed   %s: %v\n", r.TicketKey, r.Err)
	}
}

// failedCount reports how many items of a bulk run failed, for the
// exit status.
func failedCount(results []models.BulkOperationResult) int {
	n := 0
	for _, r := range results {
		if r.Outcome == models.OutcomeFailed {
			n++
		}
	}
	return n
}

// printSummary tallies a finished (or interrupted) bulk run.
func printSummary(results []models.BulkOperationResult) {
	var applied, skipped, failed int
	for _, r := range results {
		switch r.Outcome {
		case models.OutcomeApplied:
			applied++
		case models.OutcomeSkipped:
			skipped++
		case models.OutcomeFailed:
			failed++
		}
	}
	fmt.Printf("\n%d processed: %d applied, %d skipped, %d failed\n", len(results), applied, skipped, failed)
}
