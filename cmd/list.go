package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/faceid/internal/database"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled identities",
	Long: `List enrolled identities. --name filters by display name, ignoring case,
diacritics and dashes.`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().String("name", "", "Only show identities with this display name")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var enrollments []database.Enrollment
	if name := mustGetString(cmd, "name"); name != "" {
		enrollments = a.coordinator.Lookup(name)
	} else {
		enrollments = a.store.Snapshot().Enrollments()
	}

	for _, e := range enrollments {
		fmt.Printf("%-36s  %-24s  %-24s  angles=%d  model=%s  enrolled=%s\n",
			e.IdentityID, e.Metadata.DisplayName, e.Metadata.Email,
			e.AngleCount, e.Model, e.EnrolledAt.Format("2006-01-02 15:04"))
	}
	fmt.Printf("\n%d of %d enrollments (dim %d)\n", len(enrollments), a.store.Len(), a.store.Dim())
	return nil
}
