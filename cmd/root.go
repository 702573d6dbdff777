// Package cmd provides the command-line interface for jiractl.
package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "jiractl",
	Short: "jiractl works with Jira Cloud tickets in bulk",
	Long: `jiractl is a CLI for the everyday bulk chores Jira Cloud makes tedious:
assigning a project code label to whole search results and booking
worklog time, one entry or a whole CSV import at a time.

It authenticates with OAuth 2.0 + PKCE and keeps the credential
encrypted at rest, so after a single 'jiractl login' every command just
works until the refresh token dies.

Credentials live in named sessions. The default session suits a single
account; pass --session to keep several accounts side by side:

  jiractl --session work login
  jiractl --session work tickets --project ABC`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. The context carries interrupt
// cancellation so bulk operations can stop between items.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Every command operates on one named credential session
	rootCmd.PersistentFlags().StringP("session", "s", "default", "named credential session to use")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(projectsCmd)
	rootCmd.AddCommand(ticketsCmd)
	rootCmd.AddCommand(labelCmd)
	rootCmd.AddCommand(worklogCmd)
}
