package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"jiractl/internal/apperrors"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show credential, datastore and tracker health",
	Long: `Status checks every layer a command depends on: the datastore holding
the encrypted credential, the credential itself (refreshing it when it
is about to expire, which exercises the refresh path), the resolved
site, and the tracker API including the permissions the bulk commands
need.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		session := sessionName(cmd)
		fmt.Printf("Session:      %s\n", session)

		info, err := app.store.Ping(ctx)
		if err != nil {
			return fmt.Errorf("datastore unreachable: %v", err)
		}
		fmt.Printf("Datastore:    %s %s, reachable\n", info.Driver, info.Version)

		cred, err := app.auth.CredentialForUse(ctx, session)
		if errors.Is(err, apperrors.ErrAuthRequired) {
			fmt.Println("Credential:   none, run 'jiractl login'")
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Printf("Credential:   valid for %s", time.Duration(cred.SecondsLeft(time.Now()))*time.Second)
		if !cred.Renewable() {
			fmt.Print(" (no refresh token, expires for good)")
		}
		fmt.Println()

		client, err := app.trackerClient(ctx, session)
		if err != nil {
			return err
		}

		site := client.Site()
		fmt.Printf("Site:         %s (%s)\n", site.Name, site.URL)

		profile, err := client.Myself(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Signed in as: %s <%s>\n", profile.DisplayName, profile.Email)

		granted, err := client.MyPermissions(ctx)
		if err != nil {
			return err
		}
		for _, name := range []string{"EDIT_ISSUES", "WORK_ON_ISSUES"} {
			verdict := "granted"
			if !granted[name] {
				verdict = "missing"
			}
			fmt.Printf("Permission:   %s %s\n", name, verdict)
		}

		return nil
	},
}
