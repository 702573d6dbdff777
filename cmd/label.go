package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"jiractl/internal/apperrors"
	"jiractl/internal/labels"
	"jiractl/internal/tracker"
	"jiractl/pkg/models"
)

var labelCmd = &cobra.Command{
	Use:   "label CODE [TICKET...]",
	Short: "Assign a project code label to many tickets at once",
	Long: `Label stamps a project code (the letter P followed by six digits) onto
tickets. Any previous project code label on a ticket is replaced; all
other labels are kept.

Tickets are named directly as arguments or selected with a search:

  jiractl label P123456 ABC-1 ABC-2 ABC-3
  jiractl label P123456 --project ABC --text "login page"

The command first shows what would change, then asks once before
touching anything. Every ticket is reported individually; a ticket that
fails does not stop the rest. Tickets already carrying exactly the
requested labels are skipped, so re-running after a partial failure is
safe.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projects, err := cmd.Flags().GetStringArray("project")
		if err != nil {
			return err
		}
		text, err := cmd.Flags().GetString("text")
		if err != nil {
			return err
		}
		dryRun, err := cmd.Flags().GetBool("dry-run")
		if err != nil {
			return err
		}
		yes, err := cmd.Flags().GetBool("yes")
		if err != nil {
			return err
		}

		targetCode := args[0]
		keys := args[1:]

		if !labels.ValidCode(targetCode) {
			return fmt.Errorf("%w: %q", apperrors.ErrInvalidProjectCode, targetCode)
		}
		if len(keys) == 0 && len(projects) == 0 {
			return fmt.Errorf("name tickets as arguments or select them with --project")
		}
		if len(keys) > 0 && len(projects) > 0 {
			return fmt.Errorf("ticket arguments and --project are mutually exclusive")
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
		engine := labels.NewEngine(client)

		var plans []models.TicketLabelPlan
		if len(keys) > 0 {
			plans, err = engine.Plan(ctx, keys, targetCode)
		} else {
			var tickets []models.Ticket
			err = client.SearchIssues(ctx, projects, text, tracker.DefaultExcludedStatuses, func(t models.Ticket) error {
				tickets = append(tickets, t)
				return nil
			})
			if err == nil {
				plans = labels.PlanFromTickets(tickets, targetCode)
			}
		}
		if err != nil {
			return err
		}

		if len(plans) == 0 {
			fmt.Println("No tickets matched.")
			return nil
		}

		fmt.Printf("Assigning %s to %d tickets:\n\n", targetCode, len(plans))
		for _, p := range plans {
			fmt.Printf("  %-14s [%s] -> [%s]\n", p.TicketKey,
				strings.Join(p.CurrentLabels, " "), strings.Join(p.NewLabels, " "))
		}
		fmt.Println()

		if dryRun {
			fmt.Println("Dry run, nothing changed.")
			return nil
		}
		if !yes && !confirm(cmd, fmt.Sprintf("Apply to %d tickets?", len(plans))) {
			fmt.Println("Aborted.")
			return nil
		}
		fmt.Println()

		results, err := engine.Apply(ctx, plans, printResult)
		printSummary(results)
		if err != nil {
			return err
		}
		if n := failedCount(results); n > 0 {
			return fmt.Errorf("%d of %d tickets failed", n, len(results))
		}
		return nil
	},
}

func init() {
	labelCmd.Flags().StringArrayP("project", "p", nil, "project key to search for tickets (repeatable)")
	labelCmd.Flags().StringP("text", "t", "", "full-text term to narrow the search")
	labelCmd.Flags().Bool("dry-run", false, "show the plan without changing anything")
	labelCmd.Flags().BoolP("yes", "y", false, "apply without asking")
}
