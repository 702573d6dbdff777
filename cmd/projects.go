package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List the projects visible to the session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
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

		projects, err := client.Projects(ctx)
		if err != nil {
			return err
		}

		sort.Slice(projects, func(i, j int) bool { return projects[i].Key < projects[j].Key })

		fmt.Printf("%-12s %s\n", "KEY", "NAME")
		for _, p := range projects {
			fmt.Printf("%-12s %s\n", p.Key, p.Name)
		}
		fmt.Printf("\n%d projects\n", len(projects))
		return nil
	},
}
