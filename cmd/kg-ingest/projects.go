package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List or delete ingested projects",
	RunE:  runProjectsList,
}

var projectsDeleteCmd = &cobra.Command{
	Use:   "delete [project-id]",
	Short: "Delete a project and every file and entity it contains",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectsDelete,
}

func init() {
	projectsCmd.AddCommand(projectsDeleteCmd)
}

func runProjectsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	backend, err := connectBackend(ctx)
	if err != nil {
		return err
	}
	defer backend.Close(ctx)

	projects, err := backend.GetProjects(ctx)
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		fmt.Println("No projects ingested yet.")
		return nil
	}
	for _, p := range projects {
		lastParsed := "never"
		if p.LastParsed > 0 {
			lastParsed = time.Unix(p.LastParsed, 0).Format(time.RFC3339)
		}
		fmt.Printf("%s  %s  %d files  last parsed %s\n", p.ID, p.RootPath, p.FileCount, lastParsed)
	}
	return nil
}

func runProjectsDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	backend, err := connectBackend(ctx)
	if err != nil {
		return err
	}
	defer backend.Close(ctx)

	if err := backend.DeleteProject(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted project %s\n", args[0])
	return nil
}
