package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Delete the stored credential for the session",
	Long: `Logout removes the session's credential and any half-finished login
attempt from the local datastore. The next command that needs the
tracker will ask you to log in again.

Tokens already issued to the session stay valid at the provider until
they expire; logout only forgets them locally.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		session := sessionName(cmd)
		if err := app.auth.Logout(ctx, session); err != nil {
			return err
		}

		fmt.Printf("Logged out of session %q\n", session)
		return nil
	},
}
