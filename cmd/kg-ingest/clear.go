package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var clearYes bool

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every node and edge in the graph",
	Long: `Clear empties the entire knowledge graph: every project, file,
entity and relation. There is no undo.`,
	RunE: runClear,
}

func init() {
	clearCmd.Flags().BoolVarP(&clearYes, "yes", "y", false, "skip the confirmation prompt")
}

func runClear(cmd *cobra.Command, args []string) error {
	if !clearYes {
		fmt.Print("This deletes the entire graph. Type 'yes' to continue: ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.TrimSpace(answer) != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	ctx := context.Background()
	backend, err := connectBackend(ctx)
	if err != nil {
		return err
	}
	defer backend.Close(ctx)

	if err := backend.ClearAll(ctx); err != nil {
		return err
	}
	fmt.Println("Graph cleared.")
	return nil
}
