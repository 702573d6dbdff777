package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"jiractl/internal/tracker"
	"jiractl/pkg/models"
)

var ticketsCmd = &cobra.Command{
	Use:   "tickets",
	Short: "Search tickets in one or more projects",
	Long: `Tickets searches the selected projects, optionally narrowed by a
full-text term. Closed and cancelled tickets are hidden unless --all is
given, matching what the bulk label command would operate on.

Example:
  jiractl tickets --project ABC --project XYZ --text "login page"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		projects, err := cmd.Flags().GetStringArray("project")
		if err != nil {
			return err
		}
		text, err := cmd.Flags().GetString("text")
		if err != nil {
			return err
		}
		all, err := cmd.Flags().GetBool("all")
		if err != nil {
			return err
		}

		if len(projects) == 0 {
			return fmt.Errorf("at least one project must be selected using --project")
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

		excluded := tracker.DefaultExcludedStatuses
		if all {
			excluded = nil
		}

		count := 0
		fmt.Printf("%-14s %-16s %-20s %s\n", "KEY", "STATUS", "ASSIGNEE", "SUMMARY")
		err = client.SearchIssues(ctx, projects, text, excluded, func(t models.Ticket) error {
			count++
			assignee := t.Assignee
			if assignee == "" {
				assignee = "-"
			}
			fmt.Printf("%-14s %-16s %-20s %s\n", t.Key, t.Status, assignee, t.Summary)
			return nil
		})
		if err != nil {
			return err
		}

		label := "tickets"
		if count == 1 {
			label = "ticket"
		}
		fmt.Printf("\n%d %s", count, label)
		if !all && len(tracker.DefaultExcludedStatuses) > 0 {
			fmt.Printf(" (statuses %s hidden, use --all to include them)", strings.Join(tracker.DefaultExcludedStatuses, ", "))
		}
		fmt.Println()
		return nil
	},
}

func init() {
	ticketsCmd.Flags().StringArrayP("project", "p", nil, "project key to search (repeatable)")
	ticketsCmd.Flags().StringP("text", "t", "", "full-text term to narrow the search")
	ticketsCmd.Flags().Bool("all", false, "include closed and cancelled tickets")
}
