package cmd

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"jiractl/internal/logging"
	"jiractl/internal/worklog"
	"jiractl/pkg/models"
)

var worklogCmd = &cobra.Command{
	Use:   "worklog",
	Short: "Book, undo and import worklog time",
	Long: `Worklog books time on tickets. Durations are given in hours and must be
multiples of a quarter hour; 1.25 books 75 minutes, 1.10 is rejected
because 66 minutes does not fit the tracker's raster.`,
}

var worklogAddCmd = &cobra.Command{
	Use:   "add TICKET HOURS",
	Short: "Book one worklog entry",
	Long: `Add books a single worklog entry. Hours accept a dot or comma decimal
separator and must be a multiple of 0.25.

Example:
  jiractl worklog add ABC-1 1.25 --date 10.01.2024 --time 14:00 --comment "pairing"

The booked entry is remembered so 'jiractl worklog undo' can take it
back.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		date, err := cmd.Flags().GetString("date")
		if err != nil {
			return err
		}
		clock, err := cmd.Flags().GetString("time")
		if err != nil {
			return err
		}
		comment, err := cmd.Flags().GetString("comment")
		if err != nil {
			return err
		}

		minutes, err := worklog.MinutesFromHours(args[1])
		if err != nil {
			return err
		}
		if date == "" {
			date = time.Now().Format("2.1.2006")
		}
		started, err := worklog.ParseStart(date, clock)
		if err != nil {
			return err
		}

		entry := models.WorklogEntry{
			TicketKey: args[0],
			Started:   started,
			Minutes:   minutes,
			Comment:   comment,
		}

		ctx := cmd.Context()
		app, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		session := sessionName(cmd)
		client, err := app.trackerClient(ctx, session)
		if err != nil {
			return err
		}
		engine := worklog.NewEngine(client)

		valid, rejected, err := engine.Validate(ctx, []models.WorklogEntry{entry})
		if err != nil {
			return err
		}
		if len(rejected) > 0 {
			return rejected[0].Err
		}

		results, err := engine.Submit(ctx, valid, nil)
		if err != nil {
			return err
		}
		result := results[0]
		if result.Outcome == models.OutcomeFailed {
			return result.Err
		}

		last := models.LastWorklog{
			TicketKey:  result.TicketKey,
			WorklogID:  result.WorklogID,
			RecordedAt: time.Now(),
		}
		if err := app.store.SaveLastWorklog(ctx, session, last); err != nil {
			logging.Warn("failed to remember the worklog for undo", "ticket", result.TicketKey, "error", err)
		}

		fmt.Printf("Booked %s on %s at %s (worklog %s)\n",
			formatMinutes(minutes), result.TicketKey, started.Format("2.1.2006 15:04"), result.WorklogID)
		fmt.Println("Take it back with 'jiractl worklog undo'.")
		return nil
	},
}

var worklogUndoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Delete the most recently booked worklog entry",
	Long: `Undo deletes the worklog entry the last 'worklog add' created. Each
booking can be undone once.

Any entry whose id is known (import prints one per booked line) can be
deleted directly:

  jiractl worklog undo --ticket ABC-1 --id 10001`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ticket, err := cmd.Flags().GetString("ticket")
		if err != nil {
			return err
		}
		worklogID, err := cmd.Flags().GetString("id")
		if err != nil {
			return err
		}
		if (ticket == "") != (worklogID == "") {
			return fmt.Errorf("--ticket and --id must be given together")
		}

		ctx := cmd.Context()
		app, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		session := sessionName(cmd)
		client, err := app.trackerClient(ctx, session)
		if err != nil {
			return err
		}
		engine := worklog.NewEngine(client)

		// Explicit --ticket/--id names the entry directly.
		if ticket != "" {
			target := models.BulkOperationResult{TicketKey: ticket, WorklogID: worklogID, Outcome: models.OutcomeApplied}
			if err := engine.Undo(ctx, target); err != nil {
				return err
			}
			fmt.Printf("Removed worklog %s from %s\n", worklogID, ticket)
			return nil
		}

		last, err := app.store.TakeLastWorklog(ctx, session)
		if err != nil {
			return err
		}

		target := models.BulkOperationResult{TicketKey: last.TicketKey, WorklogID: last.WorklogID, Outcome: models.OutcomeApplied}
		if err := engine.Undo(ctx, target); err != nil {
			// The entry still exists, keep it undoable.
			if saveErr := app.store.SaveLastWorklog(ctx, session, last); saveErr != nil {
				logging.Warn("failed to restore the undo record", "ticket", last.TicketKey, "error", saveErr)
			}
			return err
		}

		fmt.Printf("Removed worklog %s from %s (booked %s ago)\n",
			last.WorklogID, last.TicketKey, time.Since(last.RecordedAt).Round(time.Second))
		return nil
	},
}

var worklogImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Book worklog entries from a CSV file",
	Long: `Import reads a semicolon-separated CSV file and books one worklog entry
per row:

  ticket;date;hours;time;description
  ABC-1;10.01.2024;1.25;09:00;code review
  ABC-2;2024-01-11;0,5;14:30;standup

A header row is skipped when present. Dates are day-first or ISO, hours
take a dot or comma separator, and the time of day is required. Rows
that cannot be parsed or validated are reported with their line number
and never booked; the valid rest proceeds after one confirmation.

Every booked row prints its worklog id, so a single row can be taken
back later with 'worklog undo --ticket ... --id ...'. A failed row does
not stop the others.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, err := cmd.Flags().GetBool("dry-run")
		if err != nil {
			return err
		}
		yes, err := cmd.Flags().GetBool("yes")
		if err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open import file: %v", err)
		}
		defer f.Close() //nolint:errcheck // read-only

		entries, rejected, err := worklog.Parse(f)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		app, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		client, err := app.trackerClient(ctx, sessionName(cmd))
		if err != nil {
			return err
		}
		engine := worklog.NewEngine(client)

		valid, invalid, err := engine.Validate(ctx, entries)
		if err != nil {
			return err
		}
		rejected = append(rejected, invalid...)
		sort.Slice(rejected, func(i, j int) bool { return rejected[i].Line < rejected[j].Line })

		var total int
		for _, e := range valid {
			total += e.Minutes
		}
		fmt.Printf("%s: %d entries totalling %s, %d rejected\n", args[0], len(valid), formatMinutes(total), len(rejected))

		if len(rejected) > 0 {
			fmt.Println()
			for _, bad := range rejected {
				if bad.TicketKey != "" {
					fmt.Printf("  line %-4d %-14s %v\n", bad.Line, bad.TicketKey, bad.Err)
					continue
				}
				fmt.Printf("  line %-4d %v\n", bad.Line, bad.Err)
			}
		}

		if len(valid) > 0 {
			fmt.Println()
			for _, e := range valid {
				fmt.Printf("  %-14s %s  %6s  %s\n", e.TicketKey, e.Started.Format("02.01.2006 15:04"), formatMinutes(e.Minutes), e.Comment)
			}
		}
		fmt.Println()

		if dryRun {
			fmt.Println("Dry run, nothing booked.")
			return nil
		}
		if len(valid) == 0 {
			fmt.Println("Nothing to book.")
			return nil
		}
		if !yes && !confirm(cmd, fmt.Sprintf("Book %d entries?", len(valid))) {
			fmt.Println("Aborted.")
			return nil
		}
		fmt.Println()

		results, err := engine.Submit(ctx, valid, printResult)
		printSummary(results)
		if err != nil {
			return err
		}
		if n := failedCount(results); n > 0 {
			return fmt.Errorf("%d of %d entries failed", n, len(results))
		}
		return nil
	},
}

func init() {
	worklogAddCmd.Flags().String("date", "", "day to book on, e.g. 10.01.2024 (default today)")
	worklogAddCmd.Flags().String("time", "09:00", "time of day the work started")
	worklogAddCmd.Flags().StringP("comment", "c", "", "worklog comment")

	worklogUndoCmd.Flags().String("ticket", "", "ticket of the worklog to delete")
	worklogUndoCmd.Flags().String("id", "", "id of the worklog to delete")

	worklogImportCmd.Flags().Bool("dry-run", false, "parse and validate only, book nothing")
	worklogImportCmd.Flags().BoolP("yes", "y", false, "book without asking")

	worklogCmd.AddCommand(worklogAddCmd)
	worklogCmd.AddCommand(worklogUndoCmd)
	worklogCmd.AddCommand(worklogImportCmd)
}

// formatMinutes renders a duration the way people book time, hours and
// minutes without seconds.
func formatMinutes(minutes int) string {
	h, m := minutes/60, minutes%60
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh%02dm", h, m)
	case h > 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dm", m)
	}
}
