package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var unenrollCmd = &cobra.Command{
	Use:   "unenroll <identity-id>...",
	Short: "Remove identities' biometric data",
	Long: `Remove the stored face descriptor of one or more identities.
Unknown identities are ignored.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUnenroll,
}

func init() {
	rootCmd.AddCommand(unenrollCmd)
}

func runUnenroll(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	for _, id := range args {
		_, existed := a.store.Get(id)
		if err := a.coordinator.Unenroll(ctx, id); err != nil {
			_ = a.Close()
			return fmt.Errorf("failed to unenroll %s: %w", id, err)
		}
		if existed {
			fmt.Printf("Unenrolled %s\n", id)
		} else {
			fmt.Printf("%s was not enrolled\n", id)
		}
	}
	return a.Close()
}
